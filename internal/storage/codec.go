package storage

import (
	"encoding/json"
	"errors"

	"tennessen/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// EncodeRunManifest stamps the current versions when the manifest carries none.
func EncodeRunManifest(run model.RunManifest) ([]byte, error) {
	if run.SchemaVersion == 0 && run.CodecVersion == 0 {
		run.VersionedRecord = model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	}
	return json.Marshal(run)
}

func DecodeRunManifest(data []byte) (model.RunManifest, error) {
	var run model.RunManifest
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunManifest{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunManifest{}, err
	}
	return run, nil
}

func encodeColumns(columns []string) ([]byte, error) {
	return json.Marshal(columns)
}

func decodeColumns(data []byte) ([]string, error) {
	var columns []string
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, err
	}
	return columns, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
