package storage

import (
	"encoding/json"
	"errors"

	"mioforge/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps v with the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeArchive(s model.ArchiveSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeArchive(data []byte) (model.ArchiveSnapshot, error) {
	var snapshot model.ArchiveSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.ArchiveSnapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.ArchiveSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeCoverageHistory(history []model.CoverageSample) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeCoverageHistory(data []byte) ([]model.CoverageSample, error) {
	var history []model.CoverageSample
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
