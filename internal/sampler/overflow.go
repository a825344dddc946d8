package sampler

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"tennessen/internal/blob"
	"tennessen/internal/model"
)

const OverflowContentType = "application/vnd.apache.arrow.file"

// Schema metadata keys of an overflow file.
const (
	MetaGeneration = "generation"
	MetaReplicate  = "replicate"
	MetaPositions  = "positions"
	MetaEffects    = "effects"
)

// OverflowKey names the file for one replicate.
func OverflowKey(stub string, replicate int) string {
	return fmt.Sprintf("%s.%d.arrow", stub, replicate)
}

// GenotypeMatrixOverflow writes each observed replicate's raw genotype matrix
// over its segregating causal sites to the sink as an Arrow IPC file instead of
// holding it in memory. Rows are diploids; the genotypes column holds 0/1/2
// copy counts in site order. It produces no table rows.
type GenotypeMatrixOverflow struct {
	sink   blob.Store
	stub   string
	offset int
	alloc  memory.Allocator

	mu      sync.Mutex
	written []string
}

// NewGenotypeMatrixOverflow writes replicate i of the batch under
// OverflowKey(stub, offset+i).
func NewGenotypeMatrixOverflow(sink blob.Store, stub string, offset int) *GenotypeMatrixOverflow {
	return &GenotypeMatrixOverflow{
		sink:   sink,
		stub:   stub,
		offset: offset,
		alloc:  memory.NewGoAllocator(),
	}
}

func (s *GenotypeMatrixOverflow) Kind() Kind { return KindOverflow }

func (s *GenotypeMatrixOverflow) Observe(ctx context.Context, replicate int, pop *model.Population) error {
	if s.sink == nil {
		return fmt.Errorf("overflow sampler released")
	}
	id := s.offset + replicate
	sites := pop.SegregatingCausal()
	positions := make([]string, len(sites))
	effects := make([]string, len(sites))
	for i, site := range sites {
		m := pop.Mutations[site]
		positions[i] = strconv.FormatFloat(m.Position, 'g', -1, 64)
		effects[i] = strconv.FormatFloat(m.Effect, 'g', -1, 64)
	}
	meta := arrow.NewMetadata(
		[]string{MetaGeneration, MetaReplicate, MetaPositions, MetaEffects},
		[]string{strconv.Itoa(pop.Generation), strconv.Itoa(id), strings.Join(positions, ","), strings.Join(effects, ",")},
	)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "individual", Type: arrow.PrimitiveTypes.Int64},
		{Name: "g", Type: arrow.PrimitiveTypes.Float64},
		{Name: "e", Type: arrow.PrimitiveTypes.Float64},
		{Name: "genotypes", Type: arrow.ListOf(arrow.PrimitiveTypes.Int8)},
	}, &meta)

	b := array.NewRecordBuilder(s.alloc, schema)
	defer b.Release()
	individuals := b.Field(0).(*array.Int64Builder)
	g := b.Field(1).(*array.Float64Builder)
	e := b.Field(2).(*array.Float64Builder)
	genotypes := b.Field(3).(*array.ListBuilder)
	counts := genotypes.ValueBuilder().(*array.Int8Builder)

	for i, row := range pop.GenotypeMatrix(sites) {
		individuals.Append(int64(i))
		g.Append(pop.G[i])
		e.Append(pop.E[i])
		genotypes.Append(true)
		counts.AppendValues(row, nil)
	}
	rec := b.NewRecord()
	defer rec.Release()

	file, err := encodeRecord(s.alloc, schema, rec)
	if err != nil {
		return fmt.Errorf("encode replicate %d: %w", id, err)
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}()

	key := OverflowKey(s.stub, id)
	_, err = s.sink.Put(ctx, key, file, blob.PutOptions{
		ContentType: OverflowContentType,
		Metadata: map[string]string{
			MetaGeneration: strconv.Itoa(pop.Generation),
			MetaReplicate:  strconv.Itoa(id),
		},
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	s.mu.Lock()
	s.written = append(s.written, key)
	s.mu.Unlock()
	return nil
}

// encodeRecord writes rec as an Arrow IPC file to a temporary file and returns
// it rewound to the start. The file writer seeks back to patch the footer, so
// it cannot target the sink directly.
func encodeRecord(alloc memory.Allocator, schema *arrow.Schema, rec arrow.Record) (*os.File, error) {
	file, err := os.CreateTemp("", "overflow-*.arrow")
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*os.File, error) {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, err
	}
	w, err := ipc.NewFileWriter(file, ipc.WithSchema(schema), ipc.WithAllocator(alloc))
	if err != nil {
		return fail(err)
	}
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fail(err)
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	return file, nil
}

// Written returns the keys written so far, in completion order.
func (s *GenotypeMatrixOverflow) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// Release drops the sampler's sink and allocator. Further observations fail.
func (s *GenotypeMatrixOverflow) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	s.alloc = nil
	s.written = nil
}

func (s *GenotypeMatrixOverflow) Results() iter.Seq2[int, model.RecordSet] {
	return func(func(int, model.RecordSet) bool) {}
}

func (s *GenotypeMatrixOverflow) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = nil
}
