package model

import (
	"encoding/json"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type ParamRecord struct {
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Value    string   `json:"value"`
}

type ActionRecord struct {
	ID     string        `json:"id"`
	Kind   string        `json:"kind"`
	Group  Group         `json:"group"`
	Params []ParamRecord `json:"params"`
}

// IndividualRecord is the flat, language-neutral form of an individual that
// test writers consume.
type IndividualRecord struct {
	ID               string         `json:"id"`
	ParentID         string         `json:"parent_id,omitempty"`
	Operation        string         `json:"operation,omitempty"`
	Signature        string         `json:"signature"`
	Actions          []ActionRecord `json:"actions"`
	Bindings         []Binding      `json:"bindings,omitempty"`
	Incomplete       bool           `json:"incomplete,omitempty"`
	IncompleteReason string         `json:"incomplete_reason,omitempty"`
}

type EvaluatedRecord struct {
	Individual IndividualRecord `json:"individual"`
	Fitness    FitnessVector    `json:"fitness"`
	Results    []ActionResult   `json:"results,omitempty"`
	Failure    *Failure         `json:"failure,omitempty"`
}

// ArchiveEntry is one member of a target population.
type ArchiveEntry struct {
	Target  string          `json:"target"`
	Fitness float64         `json:"fitness"`
	Covered bool            `json:"covered"`
	Member  EvaluatedRecord `json:"member"`
}

type ArchiveSnapshot struct {
	VersionedRecord
	RunID   string         `json:"run_id"`
	Targets int            `json:"targets"`
	Covered []string       `json:"covered"`
	Entries []ArchiveEntry `json:"entries"`
}

// CoverageSample is one point of the coverage-over-time history of a run.
type CoverageSample struct {
	Evaluations int     `json:"evaluations"`
	Covered     int     `json:"covered"`
	Targets     int     `json:"targets"`
	Phase       string  `json:"phase"`
	Elapsed     float64 `json:"elapsed_seconds"`
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

type RunRecord struct {
	VersionedRecord
	ID          string    `json:"id"`
	Seed        int64     `json:"seed"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Evaluations int       `json:"evaluations"`
	Failures    int       `json:"failures"`
	Targets     int       `json:"targets"`
	Covered     int       `json:"covered"`
	// Config is the effective configuration of the run as JSON.
	Config json.RawMessage `json:"config,omitempty"`
}

// Record flattens the individual.
func (ind *Individual) Record() IndividualRecord {
	rec := IndividualRecord{
		ID:               ind.id,
		ParentID:         ind.parentID,
		Operation:        ind.operation,
		Signature:        ind.Signature(),
		Bindings:         ind.Bindings(),
		Incomplete:       ind.incomplete,
		IncompleteReason: ind.reason,
	}
	for _, a := range ind.actions() {
		group := GroupMain
		if a.setup {
			group = GroupSetup
		}
		ar := ActionRecord{ID: a.ID(), Kind: a.kind.Name(), Group: group}
		for _, p := range a.params {
			ar.Params = append(ar.Params, ParamRecord{Name: p.name, Location: p.location, Value: p.Value()})
		}
		rec.Actions = append(rec.Actions, ar)
	}
	return rec
}
