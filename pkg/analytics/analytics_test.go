package analytics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greg-hellings/datadash/internal/testutil"
	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/session"
)

func newProjection(t *testing.T) (*testutil.Backend, *Projection, *session.Store) {
	t.Helper()
	b := testutil.NewBackend(t)
	store := session.NewStore(session.NewMemoryStorage(nil), nil)
	require.NoError(t, store.Set(testutil.DemoUser, session.BuildCredential(testutil.DemoUser, testutil.DemoPassword)))
	c, err := api.NewClient(api.Config{BaseURL: b.URL()}, store)
	require.NoError(t, err)
	return b, NewProjection(c, nil), store
}

func TestFetchSummary(t *testing.T) {
	b, p, _ := newProjection(t)
	id := b.Seed("plant.csv", testutil.SampleCSV(3))

	s, err := p.FetchSummary(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalCount)
	avg, ok := s.Average("Flowrate")
	require.True(t, ok)
	assert.InDelta(t, 101.5, avg, 1e-9)
	assert.Equal(t, map[string]int{"Pump": 1, "Valve": 1, "Compressor": 1}, s.TypeDistribution)
}

func TestFetchPreview_Limits(t *testing.T) {
	b, p, _ := newProjection(t)
	id := b.Seed("plant.csv", testutil.SampleCSV(120))

	tests := []struct {
		in        int
		wantLimit int
		wantRows  int
	}{
		{in: 0, wantLimit: DefaultPreviewLimit, wantRows: 50},
		{in: DetailPreviewLimit, wantLimit: 100, wantRows: 100},
		{in: 10000, wantLimit: MaxPreviewLimit, wantRows: 120},
		{in: 3, wantLimit: 3, wantRows: 3},
	}
	for _, tt := range tests {
		pv, err := p.FetchPreview(context.Background(), id, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.wantLimit, pv.Limit, "limit for %d", tt.in)
		assert.Len(t, pv.Rows, tt.wantRows, "rows for %d", tt.in)
		assert.Equal(t, tt.wantRows, pv.Returned)
	}
}

func TestFetchSnapshot(t *testing.T) {
	b, p, _ := newProjection(t)
	id := b.Seed("plant.csv", testutil.SampleCSV(4))

	snap, err := p.FetchSnapshot(context.Background(), id, DefaultPreviewLimit)
	require.NoError(t, err)
	assert.Equal(t, id, snap.DatasetID)
	assert.Equal(t, "plant.csv", snap.Dataset.Filename)
	assert.Equal(t, 4, snap.Summary.TotalCount)
	assert.Len(t, snap.Preview.Rows, 4)
	assert.Contains(t, snap.Preview.Columns, ColumnFlowrate)
	assert.True(t, snap.Preview.Metrics().HasData())
}

func TestFetchSnapshot_PartialFailureYieldsNothing(t *testing.T) {
	b, p, _ := newProjection(t)
	id := b.Seed("plant.csv", testutil.SampleCSV(4))
	b.Fail("/datasets/"+id+"/preview/", http.StatusInternalServerError, "boom")

	snap, err := p.FetchSnapshot(context.Background(), id, DefaultPreviewLimit)
	assert.Nil(t, snap)
	var rf *api.RequestFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, "boom", rf.Message)
	assert.Equal(t, 1, b.Hits("/datasets/"+id+"/summary/"))
}

func TestFetchSummary_NotFound(t *testing.T) {
	_, p, _ := newProjection(t)
	_, err := p.FetchSummary(context.Background(), "missing")
	var rf *api.RequestFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, http.StatusNotFound, rf.StatusCode)
}

func TestFetch_UnauthorizedClearsSession(t *testing.T) {
	b, p, store := newProjection(t)
	id := b.Seed("plant.csv", testutil.SampleCSV(1))
	b.Fail("/datasets/"+id+"/summary/", http.StatusUnauthorized, "")

	_, err := p.FetchSummary(context.Background(), id)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.False(t, store.Authenticated())

	_, err = p.FetchPreview(context.Background(), id, 10)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, 0, b.Hits("/datasets/"+id+"/preview/"))
}

func TestDownloadReport(t *testing.T) {
	b, p, _ := newProjection(t)
	id := b.Seed("plant.csv", testutil.SampleCSV(1))

	data, err := p.DownloadReport(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
	assert.Equal(t, "dataset_"+id+".pdf", ReportFilename(id))
}
