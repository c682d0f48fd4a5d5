// Package datasets provides the dataset records known to the client and the
// repository used to list recent datasets and upload new CSV files.
package datasets

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxRecent is the largest number of datasets the backend keeps per user and
// returns from the recent list.
const MaxRecent = 5

// Status is the server-side processing state of a dataset.
type Status string

const (
	// StatusUploaded indicates the file was received but not yet processed.
	StatusUploaded Status = "uploaded"
	// StatusProcessing indicates the backend is computing analytics.
	StatusProcessing Status = "processing"
	// StatusReady indicates analytics are available.
	StatusReady Status = "ready"
	// StatusError indicates processing failed.
	StatusError Status = "error"
)

// Known reports whether s is one of the documented statuses.
func (s Status) Known() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// Dataset is a read-through copy of a server-side dataset record.
type Dataset struct {
	ID          string    `json:"id" yaml:"id" toml:"id"`
	Filename    string    `json:"filename" yaml:"filename" toml:"filename"`
	Status      Status    `json:"status" yaml:"status" toml:"status"`
	RowCount    *int      `json:"row_count" yaml:"row_count" toml:"row_count,omitempty"`
	ColumnCount *int      `json:"column_count" yaml:"column_count" toml:"column_count,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at" yaml:"uploaded_at" toml:"uploaded_at"`
}

// Ready reports whether analytics can be shown for the dataset.
func (d Dataset) Ready() bool {
	return d.Status == StatusReady
}

// Summary holds the aggregate analytics computed by the backend.
type Summary struct {
	TotalCount       int                 `json:"total_count" yaml:"total_count" toml:"total_count"`
	Averages         map[string]*float64 `json:"averages" yaml:"averages" toml:"averages"`
	TypeDistribution map[string]int      `json:"type_distribution" yaml:"type_distribution" toml:"type_distribution"`
}

// Average returns the average for field and whether it is present.
func (s Summary) Average(field string) (float64, bool) {
	v, ok := s.Averages[field]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// UploadResult is returned by Repository.Upload.
type UploadResult struct {
	Dataset Dataset  `json:"dataset" yaml:"dataset" toml:"dataset"`
	Summary *Summary `json:"summary" yaml:"summary" toml:"summary,omitempty"`
}

var (
	// ErrNotFound is returned when no dataset in a list matches an id or prefix.
	ErrNotFound = errors.New("dataset not found")
	// ErrAmbiguous is returned when an id prefix matches more than one dataset.
	ErrAmbiguous = errors.New("dataset id prefix is ambiguous")
)

// List is an ordered recent-datasets list, most recent first.
type List []Dataset

// Find returns the dataset with the given id.
func (l List) Find(id string) (Dataset, bool) {
	for _, d := range l {
		if d.ID == id {
			return d, true
		}
	}
	return Dataset{}, false
}

// Contains reports whether id is present in the list.
func (l List) Contains(id string) bool {
	_, ok := l.Find(id)
	return ok
}

// First returns the id of the first (most recent) dataset, or "" when empty.
func (l List) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0].ID
}

// IDs returns the ids in list order.
func (l List) IDs() []string {
	out := make([]string, 0, len(l))
	for _, d := range l {
		out = append(out, d.ID)
	}
	return out
}

// ResolvePrefix expands an unambiguous id prefix (case-insensitive) to a full id.
// An exact match always wins.
func (l List) ResolvePrefix(prefix string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return "", ErrNotFound
	}
	for _, d := range l {
		if strings.ToLower(d.ID) == p {
			return d.ID, nil
		}
	}
	var match string
	for _, d := range l {
		if strings.HasPrefix(strings.ToLower(d.ID), p) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
			}
			match = d.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return match, nil
}
