// Package dashboard holds the dataset-selection state machine that backs the
// interactive dashboard: the recent list, the current selection, its analytics
// and a request state per concern.
package dashboard

import (
	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/datasets"
)

// SelectionPhase is the lifecycle of the current selection.
type SelectionPhase string

const (
	// NoSelection means the list is empty or nothing has been chosen yet.
	NoSelection SelectionPhase = "no-selection"
	// Loading means analytics for the selected id are being fetched.
	Loading SelectionPhase = "loading"
	// Ready means summary and preview for the selected id are both present.
	Ready SelectionPhase = "ready"
	// Degraded means fetching analytics failed; the error is in the dataset slot.
	Degraded SelectionPhase = "degraded"
)

// Concern identifies an independent request flow.
type Concern int

const (
	// ConcernList is the recent-datasets list fetch.
	ConcernList Concern = iota
	// ConcernDataset is the analytics fetch for the selection.
	ConcernDataset
	// ConcernUpload is the CSV upload.
	ConcernUpload

	concernCount
)

func (c Concern) String() string {
	switch c {
	case ConcernList:
		return "list"
	case ConcernDataset:
		return "dataset"
	case ConcernUpload:
		return "upload"
	}
	return "unknown"
}

// RequestPhase is the progress of one concern's latest request.
type RequestPhase string

const (
	Idle     RequestPhase = "idle"
	InFlight RequestPhase = "in-flight"
	Settled  RequestPhase = "settled"
)

// RequestState is the progress and last error of one concern.
type RequestState struct {
	Phase RequestPhase
	// Err is a human-readable message; empty when the last request succeeded.
	Err string
}

// State is a copy of the controller state at one point in time.
type State struct {
	List       datasets.List
	SelectedID string
	Phase      SelectionPhase

	requests [concernCount]RequestState
	snapshot *analytics.Snapshot
	version  uint64
}

// Version increases with every state change. A state with a lower version
// is older.
func (s State) Version() uint64 {
	return s.version
}

// Request returns the request state of a concern.
func (s State) Request(c Concern) RequestState {
	if c < 0 || c >= concernCount {
		return RequestState{Phase: Idle}
	}
	return s.requests[c]
}

// Err returns the error message recorded for a concern.
func (s State) Err(c Concern) string {
	return s.Request(c).Err
}

// Uploading reports whether an upload is in flight.
func (s State) Uploading() bool {
	return s.requests[ConcernUpload].Phase == InFlight
}

// Selected returns the list entry of the current selection.
func (s State) Selected() (datasets.Dataset, bool) {
	if s.SelectedID == "" {
		return datasets.Dataset{}, false
	}
	return s.List.Find(s.SelectedID)
}

// Ready returns the analytics of the current selection. It only succeeds when
// both summary and preview were fetched for the selected id.
func (s State) Ready() (*analytics.Snapshot, bool) {
	if s.Phase != Ready || s.snapshot == nil || s.snapshot.DatasetID != s.SelectedID {
		return nil, false
	}
	return s.snapshot, true
}

func (s State) clone() State {
	out := s
	if s.List != nil {
		out.List = append(datasets.List(nil), s.List...)
	}
	return out
}
