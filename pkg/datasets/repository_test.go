package datasets

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greg-hellings/datadash/internal/testutil"
	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/session"
)

type recordingCaller struct {
	requests []api.Request
	bodies   []string
	err      error
	respond  func(out any)
}

func (c *recordingCaller) Do(_ context.Context, r api.Request, out any) error {
	c.requests = append(c.requests, r)
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		c.bodies = append(c.bodies, string(b))
	}
	if c.err != nil {
		return c.err
	}
	if c.respond != nil {
		c.respond(out)
	}
	return nil
}

func newBackendRepo(t *testing.T) (*testutil.Backend, *Repository) {
	t.Helper()
	b := testutil.NewBackend(t)
	store := session.NewStore(session.NewMemoryStorage(nil), nil)
	require.NoError(t, store.Set(testutil.DemoUser, session.BuildCredential(testutil.DemoUser, testutil.DemoPassword)))
	c, err := api.NewClient(api.Config{BaseURL: b.URL()}, store)
	require.NoError(t, err)
	return b, NewRepository(c, nil)
}

func TestListRecent_ClampsLimit(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{in: 0, want: "1"},
		{in: -3, want: "1"},
		{in: 3, want: "3"},
		{in: 5, want: "5"},
		{in: 50, want: "5"},
	}
	for _, tt := range tests {
		caller := &recordingCaller{}
		_, err := NewRepository(caller, nil).ListRecent(context.Background(), tt.in)
		require.NoError(t, err)
		require.Len(t, caller.requests, 1)
		req := caller.requests[0]
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/datasets/", req.Path)
		assert.Equal(t, tt.want, req.Query.Get("limit"), "limit %d", tt.in)
	}
}

func TestListRecent_EmptyIsNonNil(t *testing.T) {
	caller := &recordingCaller{}
	got, err := NewRepository(caller, nil).ListRecent(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListRecent_PropagatesErrors(t *testing.T) {
	caller := &recordingCaller{err: api.ErrUnauthorized}
	_, err := NewRepository(caller, nil).ListRecent(context.Background(), 5)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestListRecent_ServerOrder(t *testing.T) {
	b, repo := newBackendRepo(t)
	first := b.Seed("first.csv", testutil.SampleCSV(2))
	second := b.Seed("second.csv", testutil.SampleCSV(3))

	got, err := repo.ListRecent(context.Background(), MaxRecent)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{second, first}, got.IDs())
	assert.Equal(t, StatusReady, got[0].Status)
	require.NotNil(t, got[0].RowCount)
	assert.Equal(t, 3, *got[0].RowCount)
}

func TestUpload_MultipartShape(t *testing.T) {
	caller := &recordingCaller{respond: func(out any) {
		out.(*UploadResult).Dataset = Dataset{ID: "x", Status: StatusProcessing}
	}}
	res, err := NewRepository(caller, nil).Upload(context.Background(), "dir/plant \"A\".csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Dataset.Status)

	require.Len(t, caller.requests, 1)
	req := caller.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/datasets/upload/", req.Path)
	assert.True(t, strings.HasPrefix(req.ContentType, "multipart/form-data; boundary="))
	body := caller.bodies[0]
	assert.Contains(t, body, `name="file"; filename="plant \"A\".csv"`)
	assert.Contains(t, body, "Content-Type: text/csv")
	assert.Contains(t, body, "a,b\n1,2\n")
}

func TestUpload_AgainstBackend(t *testing.T) {
	b, repo := newBackendRepo(t)
	for i := 0; i < MaxRecent; i++ {
		b.Seed("old.csv", testutil.SampleCSV(1))
	}

	res, err := repo.Upload(context.Background(), "fresh.csv", strings.NewReader(testutil.SampleCSV(4)))
	require.NoError(t, err)
	assert.Equal(t, "fresh.csv", res.Dataset.Filename)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 4, res.Summary.TotalCount)

	list, err := repo.ListRecent(context.Background(), MaxRecent)
	require.NoError(t, err)
	assert.Len(t, list, MaxRecent)
	assert.Equal(t, res.Dataset.ID, list.First())
}

func TestUpload_RejectedCSV(t *testing.T) {
	_, repo := newBackendRepo(t)
	_, err := repo.Upload(context.Background(), "bad.csv", strings.NewReader("only,two\n1,2\n"))
	var rf *api.RequestFailedError
	require.True(t, errors.As(err, &rf), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, rf.StatusCode)
	assert.Contains(t, rf.Message, "CSV processing failed")
}

func TestUploadFile(t *testing.T) {
	_, repo := newBackendRepo(t)
	path := filepath.Join(t.TempDir(), "plant.csv")
	require.NoError(t, os.WriteFile(path, []byte(testutil.SampleCSV(2)), 0o600))

	res, err := repo.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plant.csv", res.Dataset.Filename)

	_, err = repo.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
