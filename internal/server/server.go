// Package server exposes configuration runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/serverutil"
	"github.com/andrej220/autopilot/internal/worker"
	"github.com/andrej220/autopilot/pkg/reportstore"
	dm "github.com/andrej220/autopilot/pkg/shared-models"
	"github.com/andrej220/autopilot/pkg/workerpool"
)

const defaultMaxBody = 10 << 20

type Options struct {
	Runner worker.Runner
	Store  reportstore.Store
	Pool   *workerpool.Pool[dm.RunRequest]
	// UploadDir receives uploaded files; empty means the OS temp dir.
	UploadDir    string
	MaxBodyBytes int64
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   lg.Logger
	// BaseContext is the parent of queued runs; they outlive their request.
	BaseContext context.Context
}

type Server struct {
	opts Options
	mux  *http.ServeMux
}

func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if opts.Store == nil {
		opts.Store = reportstore.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = lg.Discard
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/run-config", s.handleRunConfig)
	if s.opts.Pool != nil {
		s.mux.Handle("POST /api/runs",
			serverutil.NewValidationHandler[dm.RunRequest](http.HandlerFunc(s.handleSubmitRun), s.opts.MaxBodyBytes))
	}
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("POST /api/upload-file", s.handleUpload)
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: rw, code: http.StatusOK}
	s.mux.ServeHTTP(sw, r.WithContext(lg.Attach(r.Context(), s.opts.Logger)))
	s.opts.Logger.Debug("request served",
		lg.String("method", r.Method),
		lg.String("path", r.URL.Path),
		lg.Int("status", sw.code),
		lg.Duration("duration", time.Since(start)))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// handleRunConfig runs the posted document synchronously and answers with
// the combined text report.
func (s *Server) handleRunConfig(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		http.Error(rw, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	rec := worker.Execute(r.Context(), s.opts.Runner, s.opts.Store, id, body)

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set("X-Execution-UID", id)
	if rec.Error != "" {
		rw.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(rw, "❌ Automation failed: %s", rec.Error)
		return
	}
	_, _ = io.WriteString(rw, rec.Text)
}

func (s *Server) handleSubmitRun(rw http.ResponseWriter, r *http.Request) {
	req, ok := serverutil.RequestFrom[dm.RunRequest](r.Context())
	if !ok {
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}
	req.ExecutionUID = uuid.New()
	id := req.ExecutionUID.String()

	queued := reportstore.RunRecord{ID: id, Status: reportstore.StatusQueued, CreatedAt: time.Now().UTC()}
	if err := s.opts.Store.Save(r.Context(), queued); err != nil {
		s.opts.Logger.Error("failed to archive queued run", lg.String("exuid", id), lg.Err(err))
		http.Error(rw, "Failed to queue run", http.StatusInternalServerError)
		return
	}

	err := s.opts.Pool.Submit(workerpool.Job[dm.RunRequest]{
		ID:      id,
		Payload: req,
		Ctx:     lg.Attach(s.opts.BaseContext, s.opts.Logger),
		Fn: func(ctx context.Context, req dm.RunRequest) error {
			worker.Execute(ctx, s.opts.Runner, s.opts.Store, req.ExecutionUID.String(), req.Document)
			return nil
		},
	})
	if err != nil {
		s.opts.Logger.Error("failed to queue run", lg.String("exuid", id), lg.Err(err))
		http.Error(rw, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	serverutil.WriteJSON(rw, http.StatusAccepted, dm.RunResponse{ExecutionUID: req.ExecutionUID})
}

func (s *Server) handleGetRun(rw http.ResponseWriter, r *http.Request) {
	rec, err := s.opts.Store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, reportstore.ErrNotFound) {
			http.Error(rw, "Run not found", http.StatusNotFound)
			return
		}
		s.opts.Logger.Error("failed to load run", lg.Err(err))
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}
	serverutil.WriteJSON(rw, http.StatusOK, rec)
}

var uploadSuffix = map[string]string{"pem": ".pem", "sh": ".sh"}

// handleUpload stores a multipart "file" under a fresh upload_* name and
// answers with its absolute path. Keys are only readable by the owner.
func (s *Server) handleUpload(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, s.opts.MaxBodyBytes)
	if err := r.ParseMultipartForm(s.opts.MaxBodyBytes); err != nil {
		http.Error(rw, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	kind := r.FormValue("type")
	suffix, ok := uploadSuffix[kind]
	if !ok {
		http.Error(rw, fmt.Sprintf("Invalid upload type %q, expected pem or sh", kind), http.StatusBadRequest)
		return
	}
	src, _, err := r.FormFile("file")
	if err != nil {
		http.Error(rw, "Missing file", http.StatusBadRequest)
		return
	}
	defer src.Close()

	path, err := s.storeUpload(src, suffix, kind == "pem")
	if err != nil {
		s.opts.Logger.Error("failed to store upload", lg.Err(err))
		http.Error(rw, "File upload failed", http.StatusInternalServerError)
		return
	}
	s.opts.Logger.Info("file uploaded", lg.String("type", kind), lg.String("path", path))
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(rw, path)
}

func (s *Server) storeUpload(src io.Reader, suffix string, private bool) (string, error) {
	dir := s.opts.UploadDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	dst, err := os.CreateTemp(dir, "upload_*"+suffix)
	if err != nil {
		return "", err
	}
	if private {
		if err := dst.Chmod(0o600); err != nil {
			dst.Close()
			os.Remove(dst.Name())
			return "", err
		}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return filepath.Abs(dst.Name())
}
