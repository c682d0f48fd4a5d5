package datasets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/greg-hellings/datadash/pkg/api"
)

// Caller is the subset of api.Client the repository uses. Tests inject fakes.
type Caller interface {
	Do(ctx context.Context, r api.Request, out any) error
}

// Repository lists and uploads datasets. It adds no retries; gateway errors
// propagate unchanged.
type Repository struct {
	api    Caller
	logger *slog.Logger
}

// NewRepository creates a Repository over the given gateway.
func NewRepository(c Caller, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{api: c, logger: logger}
}

type listResponse struct {
	Items List `json:"items"`
}

// ListRecent fetches at most limit datasets, most recent first, in server order.
// limit is clamped to [1, MaxRecent].
func (r *Repository) ListRecent(ctx context.Context, limit int) (List, error) {
	limit = clamp(limit, 1, MaxRecent)

	var res listResponse
	err := r.api.Do(ctx, api.Request{
		Method: http.MethodGet,
		Path:   "/datasets/",
		Query:  url.Values{"limit": {strconv.Itoa(limit)}},
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	if res.Items == nil {
		res.Items = List{}
	}
	r.logger.Debug("Datasets listed", "count", len(res.Items), "limit", limit)
	return res.Items, nil
}

// Upload submits the CSV content as multipart field "file". The returned
// dataset may still be uploaded/processing; callers must check its Status.
func (r *Repository) Upload(ctx context.Context, filename string, content io.Reader) (*UploadResult, error) {
	if filename == "" {
		filename = "dataset.csv"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filepath.Base(filename))))
	h.Set("Content-Type", "text/csv")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("upload %s: read content: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}

	var res UploadResult
	err = r.api.Do(ctx, api.Request{
		Method:      http.MethodPost,
		Path:        "/datasets/upload/",
		Body:        &body,
		ContentType: mw.FormDataContentType(),
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	r.logger.Info("Dataset uploaded",
		"id", res.Dataset.ID,
		"filename", res.Dataset.Filename,
		"status", res.Dataset.Status)
	return &res, nil
}

// UploadFile uploads a local CSV file.
func (r *Repository) UploadFile(ctx context.Context, path string) (*UploadResult, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return r.Upload(ctx, filepath.Base(path), f)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
