package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/greg-hellings/datadash/internal/testutil"
	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/datasets"
	"github.com/greg-hellings/datadash/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t           *testing.T
	backend     *testutil.Backend
	sessionFile string
	stderr      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	return &harness{
		t:           t,
		backend:     testutil.NewBackend(t),
		sessionFile: filepath.Join(t.TempDir(), "session.yaml"),
	}
}

// run executes the CLI with a fresh app and returns stdout.
func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	a := &app{in: strings.NewReader(stdin), out: &out, errOut: &errOut}
	root := newRootCmd(a)
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetArgs(append([]string{
		"--api-base-url", h.backend.URL(),
		"--session-file", h.sessionFile,
		"--no-color",
	}, args...))
	err := root.Execute()
	h.stderr = errOut.String()
	return out.String(), err
}

func (h *harness) login() {
	h.t.Helper()
	out, err := h.run(testutil.DemoPassword+"\n", "login", "-u", testutil.DemoUser, "--password-stdin")
	require.NoError(h.t, err)
	require.Equal(h.t, "Logged in as demo\n", out)
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t)
	h.login()

	out, err := h.run("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Username:   demo")
	assert.Contains(t, out, h.backend.URL())
	assert.NotContains(t, out, testutil.DemoPassword)

	out, err = h.run("", "whoami", "-f", "json")
	require.NoError(t, err)
	var info whoami
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "demo", info.Username)
	assert.Equal(t, 1, info.UserID)

	out, err = h.run("", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)

	_, err = h.run("", "whoami")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrNoSession)
	assert.Equal(t, "not logged in; run 'datadash login' first", describeError(err))
	assert.Equal(t, 3, h.backend.Hits("/me/"), "no request without a session")
}

func TestLoginPromptsForUsername(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("demo\ndemo1234\n", "login")
	require.NoError(t, err)
	assert.Equal(t, "Logged in as demo\n", out)
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("wrong\n", "login", "-u", "demo", "--password-stdin")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrInvalidCredentials)
	assert.Equal(t, "Invalid credentials", describeError(err))

	_, statErr := os.Stat(h.sessionFile)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "rejected login must not persist a session")
}

func TestLoginRequiresPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "login", "-u", "demo", "--password-stdin")
	require.Error(t, err)
}

func TestDatasetsList(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.backend.Seed(fmt.Sprintf("plant-%d.csv", i), testutil.SampleCSV(4))
	}
	h.login()

	out, err := h.run("", "datasets", "list", "-f", "json")
	require.NoError(t, err)
	var list datasets.List
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, h.backend.IDs(), list.IDs())

	out, err = h.run("", "datasets", "list", "-n", "1", "-f", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "plant-2.csv", list[0].Filename)

	out, err = h.run("", "ds", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "plant-0.csv")
	assert.Contains(t, out, "3 of at most 5 datasets")
}

func TestDatasetsListEmpty(t *testing.T) {
	h := newHarness(t)
	h.login()

	out, err := h.run("", "datasets", "list")
	require.NoError(t, err)
	assert.Equal(t, "No datasets uploaded yet.\n", out)
}

func TestDatasetsUpload(t *testing.T) {
	h := newHarness(t)
	h.login()

	path := filepath.Join(t.TempDir(), "pumps.csv")
	require.NoError(t, os.WriteFile(path, []byte(testutil.SampleCSV(3)), 0o600))

	out, err := h.run("", "datasets", "upload", path)
	require.NoError(t, err)
	ids := h.backend.IDs()
	require.Len(t, ids, 1)
	assert.Contains(t, out, "Uploaded pumps.csv as "+ids[0])
	assert.Contains(t, out, "Total equipment: 3")

	_, err = h.run("", "datasets", "upload", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDatasetsSummaryAndPreview(t *testing.T) {
	h := newHarness(t)
	id := h.backend.Seed("plant.csv", testutil.SampleCSV(3))
	h.login()

	out, err := h.run("", "datasets", "summary", id[:8], "-f", "json")
	require.NoError(t, err)
	var sum summaryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, id, sum.Dataset.ID)
	assert.Equal(t, 3, sum.Summary.TotalCount)
	avg, ok := sum.Summary.Average(analytics.ColumnFlowrate)
	require.True(t, ok)
	assert.InDelta(t, 101.5, avg, 1e-9)

	out, err = h.run("", "datasets", "summary", id)
	require.NoError(t, err)
	assert.Contains(t, out, "plant.csv ("+id+")")
	assert.Contains(t, out, "101.50")

	out, err = h.run("", "datasets", "preview", id, "-n", "2", "-f", "json")
	require.NoError(t, err)
	var pv analytics.Preview
	require.NoError(t, json.Unmarshal([]byte(out), &pv))
	assert.Equal(t, 2, pv.Returned)
	assert.Len(t, pv.Rows, 2)

	out, err = h.run("", "datasets", "preview", id, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "Unit-0")
	assert.Contains(t, out, "100.50")
}

func TestDatasetsUnknownID(t *testing.T) {
	h := newHarness(t)
	h.backend.Seed("plant.csv", testutil.SampleCSV(2))
	h.login()

	_, err := h.run("", "datasets", "summary", "zzzz")
	require.Error(t, err)
	assert.ErrorIs(t, err, datasets.ErrNotFound)
}

func TestDatasetsReport(t *testing.T) {
	h := newHarness(t)
	id := h.backend.Seed("plant.csv", testutil.SampleCSV(2))
	h.login()

	dir := t.TempDir()
	out, err := h.run("", "datasets", "report", id, "--out", dir+string(os.PathSeparator))
	require.NoError(t, err)

	target := filepath.Join(dir, analytics.ReportFilename(id))
	assert.Contains(t, out, "Saved "+target)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestExpiredSessionIsCleared(t *testing.T) {
	h := newHarness(t)
	h.backend.Seed("plant.csv", testutil.SampleCSV(2))
	h.login()
	h.backend.Fail("/datasets/", 401, `{"detail":"Invalid username/password."}`)

	_, err := h.run("", "datasets", "list")
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))
	assert.Equal(t, "session expired or was rejected; run 'datadash login' again", describeError(err))

	h.backend.Fail("/datasets/", 0, "")
	_, err = h.run("", "datasets", "list")
	assert.ErrorIs(t, err, api.ErrNoSession)
	assert.Equal(t, 1, h.backend.Hits("/datasets/"))
}

func TestReportPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"default", "", "dataset_abc.pdf"},
		{"existing directory", dir, filepath.Join(dir, "dataset_abc.pdf")},
		{"trailing slash", "reports/", filepath.Join("reports", "dataset_abc.pdf")},
		{"explicit file", "out.pdf", "out.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reportPath(tt.out, "abc"))
		})
	}
}

func TestDescribeErrorPassesThrough(t *testing.T) {
	assert.Equal(t, "boom", describeError(errors.New("boom")))
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("", "version")
	require.NoError(t, err)
	assert.Equal(t, "datadash version: dev\n", out)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "version", "-f", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestWhoamiWarnsOnMismatchedSession(t *testing.T) {
	h := newHarness(t)
	h.backend.AddUser("alice", "secret")
	payload := fmt.Sprintf("username: demo\ncredential: %s\n", session.BuildCredential("alice", "secret"))
	require.NoError(t, os.WriteFile(h.sessionFile, []byte(payload), 0o600))

	out, err := h.run("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Username:   alice")
	assert.Contains(t, h.stderr, `stored session is for "demo" but the server signed in "alice"`)

	h.login()
	_, err = h.run("", "whoami")
	require.NoError(t, err)
	assert.NotContains(t, h.stderr, "Warning")
}

func TestDatasetsShow(t *testing.T) {
	h := newHarness(t)
	id := h.backend.Seed("plant.csv", testutil.SampleCSV(3))
	h.login()

	out, err := h.run("", "datasets", "show", id[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "plant.csv ("+id+")")
	assert.Contains(t, out, "Total equipment: 3")
	assert.Contains(t, out, "Unit-2")
	assert.Contains(t, out, "Showing 3 rows (limit 100)")

	out, err = h.run("", "datasets", "show", id, "-n", "1", "-f", "json")
	require.NoError(t, err)
	var snap analytics.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, id, snap.DatasetID)
	assert.Equal(t, 3, snap.Summary.TotalCount)
	assert.Equal(t, 1, snap.Preview.Returned)
}

func TestConfigShowAndCheck(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("", "config", "show", "-f", "json")
	require.NoError(t, err)
	var v configView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, h.backend.URL(), v.APIBaseURL)
	assert.Equal(t, h.sessionFile, v.SessionFile)
	assert.Equal(t, "2m0s", v.Timeout)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	require.NoError(t, os.WriteFile(good, []byte("list_limit = 3\nformat = \"yaml\"\n"), 0o600))
	out, err = h.run("", "config", "check", good)
	require.NoError(t, err)
	assert.Contains(t, out, good+" is valid")
	assert.Contains(t, out, "List limit:     3")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("format: xml\n"), 0o600))
	_, err = h.run("", "config", "check", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")

	_, err = h.run("", "config", "check", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
