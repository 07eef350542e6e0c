package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/autopilot/internal/executor"
	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/processor"
	"github.com/andrej220/autopilot/pkg/reportstore"
	dm "github.com/andrej220/autopilot/pkg/shared-models"
	"github.com/andrej220/autopilot/pkg/tasks"
	"github.com/andrej220/autopilot/pkg/workerpool"
)

type noSQL struct{}

func (noSQL) Execute(context.Context, string, *tasks.DatabaseConfig) (string, error) {
	return "", tasks.Errorf(tasks.ErrFileNotFound, "SQL file not found")
}

type noShell struct{}

func (noShell) RunFromConfig(context.Context, *tasks.ShellConfig) (string, error) {
	return executor.ShellSuccessMessage, nil
}

type fixture struct {
	srv   *Server
	store *reportstore.Memory
	api   *httptest.Server
	reg   *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(rw, "healthy")
	}))
	t.Cleanup(api.Close)

	reg := prometheus.NewRegistry()
	proc, err := processor.New(processor.Dependencies{
		SQL:     noSQL{},
		Shell:   noShell{},
		API:     executor.NewAPIExecutor(lg.Discard, api.Client()),
		Metrics: processor.MustNewMetrics(reg),
	})
	require.NoError(t, err)

	pool := workerpool.NewPool[dm.RunRequest](2)
	t.Cleanup(pool.Stop)

	store := reportstore.NewMemory()
	srv, err := New(Options{
		Runner:    proc,
		Store:     store,
		Pool:      pool,
		UploadDir: t.TempDir(),
		Gatherer:  reg,
	})
	require.NoError(t, err)
	return &fixture{srv: srv, store: store, api: api, reg: reg}
}

func (f *fixture) doc() string {
	return fmt.Sprintf(`{"basic": [{"type": "api", "config": {"url": %q, "method": "GET"}}]}`, f.api.URL)
}

func (f *fixture) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestRunConfig(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/run-config", strings.NewReader(f.doc()), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "🚀 Running Basic Tasks...")
	assert.Contains(t, body, "Task #1: type = api")
	assert.Contains(t, body, "✅ API executed successfully with response code: 200")

	id := rec.Header().Get("X-Execution-UID")
	stored, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, reportstore.StatusCompleted, stored.Status)
}

func TestRunConfigLoadFailure(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/run-config", strings.NewReader(`{"basic": [{"config": {}}]}`), "application/json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "❌ Automation failed: "), rec.Body.String())
}

func TestSubmitAndFetchRun(t *testing.T) {
	f := newFixture(t)

	payload, err := json.Marshal(map[string]json.RawMessage{"document": json.RawMessage(f.doc())})
	require.NoError(t, err)
	rec := f.do(http.MethodPost, "/api/runs", bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp dm.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp.ExecutionUID.String()

	var got reportstore.RunRecord
	require.Eventually(t, func() bool {
		rec := f.do(http.MethodGet, "/api/runs/"+id, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		return got.Finished()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, reportstore.StatusCompleted, got.Status)
	require.Len(t, got.Reports, 1)
	assert.Equal(t, "basic", got.Reports[0].Phase)
}

func TestSubmitRunRequiresDocument(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/runs", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownRun(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/runs/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartBody(t *testing.T, kind, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if kind != "" {
		require.NoError(t, mw.WriteField("type", kind))
	}
	fw, err := mw.CreateFormFile("file", "upload")
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	tests := []struct {
		kind   string
		suffix string
		mode   os.FileMode
	}{
		{"pem", ".pem", 0o600},
		{"sh", ".sh", 0},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			f := newFixture(t)
			body, ct := multipartBody(t, tt.kind, "payload-"+tt.kind)

			rec := f.do(http.MethodPost, "/api/upload-file", body, ct)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			path := rec.Body.String()
			assert.True(t, filepath.IsAbs(path))
			assert.True(t, strings.HasPrefix(filepath.Base(path), "upload_"))
			assert.Equal(t, tt.suffix, filepath.Ext(path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "payload-"+tt.kind, string(data))
			if tt.mode != 0 {
				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.Equal(t, tt.mode, info.Mode().Perm())
			}
		})
	}
}

func TestUploadFileRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t, "exe", "x")
	rec := f.do(http.MethodPost, "/api/upload-file", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/run-config", strings.NewReader(f.doc()), "application/json")

	rec := f.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autopilot_processor_tasks_total")
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
