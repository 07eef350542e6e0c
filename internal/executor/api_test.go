package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/pkg/tasks"
)

type recordedRequest struct {
	Method string
	Header http.Header
	Body   string
}

func newAPIServer(t *testing.T) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = append(seen, recordedRequest{Method: r.Method, Header: r.Header.Clone(), Body: string(b)})
		_, _ = w.Write([]byte(`{"status":"up"}`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such thing", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestAPIExecutorStatuses(t *testing.T) {
	srv, _ := newAPIServer(t)
	ex := NewAPIExecutor(lg.Discard, srv.Client())

	tests := []struct {
		name     string
		cfg      tasks.HTTPConfig
		wantCode int
		wantMsg  string
	}{
		{"success", tasks.HTTPConfig{URL: srv.URL + "/ok"}, 200, `{"status":"up"}`},
		{"not found", tasks.HTTPConfig{URL: srv.URL + "/missing"}, 404, "no such thing\n"},
		{"malformed url", tasks.HTTPConfig{URL: "://bad url"}, -1, ""},
		{"unsupported scheme", tasks.HTTPConfig{URL: "ftp://example.com/file"}, -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ex.Execute(context.Background(), tt.cfg)
			assert.Equal(t, tt.wantCode, got.StatusCode)
			if tt.wantCode == -1 {
				assert.NotEmpty(t, got.StatusMessage)
				return
			}
			assert.Equal(t, tt.wantMsg, got.StatusMessage)
			assert.Equal(t, tt.cfg.URL, got.URL)
		})
	}
}

func TestAPIExecutorSameOutcomeTwice(t *testing.T) {
	srv, seen := newAPIServer(t)
	ex := NewAPIExecutor(lg.Discard, srv.Client())

	for _, cfg := range []tasks.HTTPConfig{
		{URL: srv.URL + "/ok"},
		{URL: srv.URL + "/missing"},
		{URL: ""},
	} {
		first := ex.Execute(context.Background(), cfg)
		second := ex.Execute(context.Background(), cfg)
		assert.Equal(t, first, second, cfg.URL)
	}
	assert.Len(t, *seen, 2)
}

func TestAPIExecutorSendsHeadersAndBody(t *testing.T) {
	srv, seen := newAPIServer(t)
	ex := NewAPIExecutor(lg.Discard, srv.Client())

	cfg := tasks.HTTPConfig{
		URL:     srv.URL + "/ok",
		Method:  "post",
		Headers: map[string]string{"Content-Type": "application/json", "X-Trace": "abc"},
		Body:    json.RawMessage(`{"name":"svc","replicas":2}`),
	}
	got := ex.Execute(context.Background(), cfg)
	require.Equal(t, 200, got.StatusCode)

	raw := cfg
	raw.Body = json.RawMessage(`"plain text"`)
	got = ex.Execute(context.Background(), raw)
	require.Equal(t, 200, got.StatusCode)

	get := tasks.HTTPConfig{URL: srv.URL + "/ok", Body: json.RawMessage(`{"ignored":true}`)}
	require.Equal(t, 200, ex.Execute(context.Background(), get).StatusCode)

	require.Len(t, *seen, 3)
	assert.Equal(t, http.MethodPost, (*seen)[0].Method)
	assert.Equal(t, "abc", (*seen)[0].Header.Get("X-Trace"))
	assert.JSONEq(t, `{"name":"svc","replicas":2}`, (*seen)[0].Body)
	assert.Equal(t, "plain text", (*seen)[1].Body)
	assert.Equal(t, http.MethodGet, (*seen)[2].Method)
	assert.Empty(t, (*seen)[2].Body)
}

func TestAPIExecutorConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ex := NewAPIExecutor(nil, nil)
	for i := 0; i < 2; i++ {
		got := ex.Execute(context.Background(), tasks.HTTPConfig{URL: url})
		assert.Equal(t, -1, got.StatusCode)
		assert.Contains(t, got.StatusMessage, "connect")
	}
}

func TestAPIExecutorCanceledContext(t *testing.T) {
	srv, _ := newAPIServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewAPIExecutor(lg.Discard, srv.Client()).Execute(ctx, tasks.HTTPConfig{URL: srv.URL + "/ok"})
	assert.Equal(t, -1, got.StatusCode)
	assert.Contains(t, got.StatusMessage, "context canceled")
}

func TestAPIExecutorInvalidBody(t *testing.T) {
	srv, seen := newAPIServer(t)
	got := NewAPIExecutor(lg.Discard, srv.Client()).Execute(context.Background(), tasks.HTTPConfig{
		URL:    srv.URL + "/ok",
		Method: "PUT",
		Body:   json.RawMessage(`{broken`),
	})
	assert.Equal(t, -1, got.StatusCode)
	assert.Empty(t, *seen)
}
