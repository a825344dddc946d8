package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tennessen/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	order       []string
	tables      map[string]*model.RecordSet
	runs        map[string]model.RunManifest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.tables = make(map[string]*model.RecordSet)
	s.runs = make(map[string]model.RunManifest)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, table string, rows model.RecordSet) error {
	if err := validateAppend(table, rows); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	existing, ok := s.tables[table]
	if !ok {
		existing = &model.RecordSet{Columns: append([]string(nil), rows.Columns...)}
		s.tables[table] = existing
		s.order = append(s.order, table)
	} else if !sameColumns(existing.Columns, rows.Columns) {
		return fmt.Errorf("%w: %s has %v, got %v", ErrColumnMismatch, table, existing.Columns, rows.Columns)
	}
	for _, row := range rows.Rows {
		existing.Rows = append(existing.Rows, append([]float64(nil), row...))
	}
	return nil
}

func (s *MemoryStore) Rows(_ context.Context, table string) (model.RecordSet, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RecordSet{}, false, ErrNotInitialized
	}
	existing, ok := s.tables[table]
	if !ok {
		return model.RecordSet{}, false, nil
	}
	out := model.RecordSet{Columns: append([]string(nil), existing.Columns...), Rows: make([][]float64, len(existing.Rows))}
	for i, row := range existing.Rows {
		out.Rows[i] = append([]float64(nil), row...)
	}
	return out, true, nil
}

func (s *MemoryStore) Tables(_ context.Context) ([]TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	infos := make([]TableInfo, 0, len(s.order))
	for _, name := range s.order {
		t := s.tables[name]
		infos = append(infos, TableInfo{Name: name, Columns: append([]string(nil), t.Columns...), Rows: t.Len()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *MemoryStore) Truncate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.order = nil
	s.tables = make(map[string]*model.RecordSet)
	s.runs = make(map[string]model.RunManifest)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunManifest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunManifest{}, false, ErrNotInitialized
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	runs := make([]model.RunManifest, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}
