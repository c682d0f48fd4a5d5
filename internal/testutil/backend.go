// Package testutil provides an in-process fake of the analytics backend for
// package tests. It speaks the same HTTP contract as the real service:
// Basic auth, the last-five retention rule, summary/preview/report endpoints.
package testutil

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Default demo account accepted by the fake backend.
const (
	DemoUser     = "demo"
	DemoPassword = "demo1234"
)

// RequiredColumns mirrors the backend's CSV validation.
var RequiredColumns = []string{"Equipment Name", "Type", "Flowrate", "Pressure", "Temperature"}

// Dataset is the wire shape of a dataset record.
type Dataset struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Status      string    `json:"status"`
	RowCount    *int      `json:"row_count"`
	ColumnCount *int      `json:"column_count"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Summary is the wire shape of summary analytics.
type Summary struct {
	TotalCount       int                 `json:"total_count"`
	Averages         map[string]*float64 `json:"averages"`
	TypeDistribution map[string]int      `json:"type_distribution"`
}

type entry struct {
	dataset Dataset
	summary *Summary
	columns []string
	rows    []map[string]any
}

type failure struct {
	status int
	body   string
}

// Backend is a fake analytics service backed by httptest.Server.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string]string
	entries  []*entry // most recent first
	clock    time.Time
	hits     map[string]int
	failures map[string]failure
	gates    map[string]chan struct{}
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		users:    map[string]string{DemoUser: DemoPassword},
		clock:    time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		hits:     map[string]int{},
		failures: map[string]failure{},
		gates:    map[string]chan struct{}{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me/", b.auth(b.handleMe))
	mux.HandleFunc("GET /api/datasets/", b.auth(b.handleList))
	mux.HandleFunc("POST /api/datasets/upload/", b.auth(b.handleUpload))
	mux.HandleFunc("GET /api/datasets/{id}/summary/", b.auth(b.handleSummary))
	mux.HandleFunc("GET /api/datasets/{id}/preview/", b.auth(b.handlePreview))
	mux.HandleFunc("GET /api/datasets/{id}/report.pdf", b.auth(b.handleReport))
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the API base URL.
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

// Seed adds a ready dataset built from CSV text and returns its id.
func (b *Backend) Seed(filename, csvText string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.ingest(filename, strings.NewReader(csvText))
	if err != nil {
		panic(fmt.Sprintf("testutil: seed %s: %v", filename, err))
	}
	return e.dataset.ID
}

// AddUser registers another account.
func (b *Backend) AddUser(username, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[username] = password
}

// SetStatus overrides the status of a dataset.
func (b *Backend) SetStatus(id, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.find(id); e != nil {
		e.dataset.Status = status
	}
}

// Remove deletes a dataset server-side.
func (b *Backend) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.dataset.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// IDs returns dataset ids, most recent first.
func (b *Backend) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.dataset.ID)
	}
	return out
}

// Fail makes every request to path answer status with body until cleared
// with Fail(path, 0, "").
func (b *Backend) Fail(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, path)
		return
	}
	b.failures[path] = failure{status: status, body: body}
}

// Gate blocks requests to path until the returned release func is called.
func (b *Backend) Gate(path string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[path] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.gates, path)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Hits returns how many requests reached path (after authentication).
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *Backend) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		b.mu.Lock()
		want, known := b.users[user]
		b.mu.Unlock()
		if !ok || !known || want != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="api"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid username/password."})
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/api")
		b.mu.Lock()
		b.hits[path]++
		f, failing := b.failures[path]
		gate := b.gates[path]
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, f.body)
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _, _ := r.BasicAuth()
	writeJSON(w, http.StatusOK, map[string]any{"id": 1, "username": user})
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = 5
	}
	limit = max(1, min(limit, 5))

	b.mu.Lock()
	items := make([]Dataset, 0, limit)
	for i, e := range b.entries {
		if i >= limit {
			break
		}
		items = append(items, e.dataset)
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Missing file"})
		return
	}
	defer file.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.ingest(header.Filename, file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "CSV processing failed", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"dataset": e.dataset, "summary": e.summary})
}

func (b *Backend) handleSummary(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	e := b.find(r.PathValue("id"))
	b.mu.Unlock()
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": e.dataset, "summary": e.summary})
}

func (b *Backend) handlePreview(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	e := b.find(r.PathValue("id"))
	b.mu.Unlock()
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = 50
	}
	limit = max(1, min(limit, 500))
	rows := e.rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset": e.dataset,
		"preview": map[string]any{
			"columns":  e.columns,
			"rows":     rows,
			"limit":    limit,
			"returned": len(rows),
		},
	})
}

func (b *Backend) handleReport(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	e := b.find(r.PathValue("id"))
	b.mu.Unlock()
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	_, _ = fmt.Fprintf(w, "%%PDF-1.4\n%% report for %s (%s)\n%%%%EOF\n", e.dataset.Filename, e.dataset.ID)
}

// ingest parses CSV, computes the summary and enforces the last-five rule.
// Callers hold b.mu.
func (b *Backend) ingest(filename string, r io.Reader) (*entry, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV")
	}
	header := records[0]
	index := map[string]int{}
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("Missing required columns: %s", strings.Join(missing, ", "))
	}

	rows := make([]map[string]any, 0, len(records)-1)
	sums := map[string]float64{}
	counts := map[string]int{}
	dist := map[string]int{}
	for _, rec := range records[1:] {
		row := map[string]any{}
		for i, col := range header {
			if i >= len(rec) || rec[i] == "" {
				row[col] = nil
				continue
			}
			if f, err := strconv.ParseFloat(rec[i], 64); err == nil {
				row[col] = f
			} else {
				row[col] = rec[i]
			}
		}
		for _, metric := range []string{"Flowrate", "Pressure", "Temperature"} {
			if f, ok := row[metric].(float64); ok {
				sums[metric] += f
				counts[metric]++
			}
		}
		typ, _ := row["Type"].(string)
		if typ == "" {
			typ = "Unknown"
		}
		dist[typ]++
		rows = append(rows, row)
	}

	averages := map[string]*float64{}
	for _, metric := range []string{"Flowrate", "Pressure", "Temperature"} {
		if counts[metric] == 0 {
			averages[metric] = nil
			continue
		}
		avg := sums[metric] / float64(counts[metric])
		averages[metric] = &avg
	}

	b.clock = b.clock.Add(time.Minute)
	rowCount, colCount := len(rows), len(header)
	e := &entry{
		dataset: Dataset{
			ID:          uuid.NewString(),
			Filename:    filename,
			Status:      "ready",
			RowCount:    &rowCount,
			ColumnCount: &colCount,
			UploadedAt:  b.clock,
		},
		summary: &Summary{TotalCount: len(rows), Averages: averages, TypeDistribution: dist},
		columns: append([]string(nil), header...),
		rows:    rows,
	}
	b.entries = append([]*entry{e}, b.entries...)
	if len(b.entries) > 5 {
		b.entries = b.entries[:5]
	}
	return e, nil
}

func (b *Backend) find(id string) *entry {
	for _, e := range b.entries {
		if e.dataset.ID == id {
			return e
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SampleCSV returns a small valid equipment CSV.
func SampleCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(RequiredColumns, ",") + "\n")
	types := []string{"Pump", "Valve", "Compressor"}
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "Unit-%d,%s,%d.5,%d,%d\n", i+1, types[i%len(types)], 100+i, 5+i, 300+i)
	}
	return sb.String()
}
