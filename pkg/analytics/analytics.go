// Package analytics fetches the derived analytics of a dataset (summary and
// row preview) and turns untyped preview values into plottable series.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/datasets"
)

const (
	// DefaultPreviewLimit is the number of rows the dashboard requests.
	DefaultPreviewLimit = 50
	// DetailPreviewLimit is the number of rows the detail view requests.
	DetailPreviewLimit = 100
	// MaxPreviewLimit is the backend cap.
	MaxPreviewLimit = 500
)

// Caller is the subset of api.Client the projection needs.
type Caller interface {
	Do(ctx context.Context, r api.Request, out any) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// Preview is a bounded slice of dataset rows. Row values are untyped.
type Preview struct {
	Columns  []string         `json:"columns" yaml:"columns" toml:"columns"`
	Rows     []map[string]any `json:"rows" yaml:"rows" toml:"rows"`
	Limit    int              `json:"limit" yaml:"limit" toml:"limit"`
	Returned int              `json:"returned" yaml:"returned" toml:"returned"`
}

// Snapshot is the summary and preview of one dataset, fetched as a pair.
type Snapshot struct {
	DatasetID string           `json:"dataset_id" yaml:"dataset_id" toml:"dataset_id"`
	Dataset   datasets.Dataset `json:"dataset" yaml:"dataset" toml:"dataset"`
	Summary   datasets.Summary `json:"summary" yaml:"summary" toml:"summary"`
	Preview   Preview          `json:"preview" yaml:"preview" toml:"preview"`
}

type summaryResponse struct {
	Dataset datasets.Dataset `json:"dataset"`
	Summary datasets.Summary `json:"summary"`
}

type previewResponse struct {
	Dataset datasets.Dataset `json:"dataset"`
	Preview Preview          `json:"preview"`
}

// Projection fetches analytics for a dataset id.
type Projection struct {
	api    Caller
	logger *slog.Logger
}

// NewProjection creates a Projection over the given gateway.
func NewProjection(c Caller, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{api: c, logger: logger}
}

func datasetPath(id, suffix string) string {
	return "/datasets/" + url.PathEscape(id) + suffix
}

// FetchSummary fetches the summary analytics of a dataset.
func (p *Projection) FetchSummary(ctx context.Context, id string) (*datasets.Summary, error) {
	res, err := p.fetchSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	return &res.Summary, nil
}

func (p *Projection) fetchSummary(ctx context.Context, id string) (*summaryResponse, error) {
	var res summaryResponse
	if err := p.api.Do(ctx, api.Request{Method: http.MethodGet, Path: datasetPath(id, "/summary/")}, &res); err != nil {
		return nil, fmt.Errorf("fetch summary %s: %w", id, err)
	}
	return &res, nil
}

// FetchPreview fetches up to limit rows. limit is clamped to [1, MaxPreviewLimit];
// zero or negative means DefaultPreviewLimit.
func (p *Projection) FetchPreview(ctx context.Context, id string, limit int) (*Preview, error) {
	res, err := p.fetchPreview(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	return &res.Preview, nil
}

func (p *Projection) fetchPreview(ctx context.Context, id string, limit int) (*previewResponse, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	limit = min(limit, MaxPreviewLimit)

	var res previewResponse
	err := p.api.Do(ctx, api.Request{
		Method: http.MethodGet,
		Path:   datasetPath(id, "/preview/"),
		Query:  url.Values{"limit": {strconv.Itoa(limit)}},
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("fetch preview %s: %w", id, err)
	}
	if res.Preview.Columns == nil {
		res.Preview.Columns = []string{}
	}
	if res.Preview.Rows == nil {
		res.Preview.Rows = []map[string]any{}
	}
	return &res, nil
}

// FetchSnapshot fetches the summary and then the preview. The pair is only
// returned when both calls succeed.
func (p *Projection) FetchSnapshot(ctx context.Context, id string, limit int) (*Snapshot, error) {
	s, err := p.fetchSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	pv, err := p.fetchPreview(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Snapshot fetched", "id", id, "rows", pv.Preview.Returned)
	return &Snapshot{DatasetID: id, Dataset: pv.Dataset, Summary: s.Summary, Preview: pv.Preview}, nil
}

// DownloadReport fetches the PDF report of a dataset.
func (p *Projection) DownloadReport(ctx context.Context, id string) ([]byte, error) {
	data, err := p.api.Download(ctx, datasetPath(id, "/report.pdf"))
	if err != nil {
		return nil, fmt.Errorf("download report %s: %w", id, err)
	}
	p.logger.Info("Report downloaded", "id", id, "bytes", len(data))
	return data, nil
}

// ReportFilename is the default file name for a downloaded report.
func ReportFilename(id string) string {
	return "dataset_" + id + ".pdf"
}
