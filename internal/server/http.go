package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"lukechampine.com/blake3"

	"github.com/skypro1111/lfasr-relay/internal/cache"
	"github.com/skypro1111/lfasr-relay/internal/config"
	"github.com/skypro1111/lfasr-relay/internal/metrics"
	"github.com/skypro1111/lfasr-relay/internal/poll"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/transport"
	"github.com/skypro1111/lfasr-relay/internal/upload"
)

const maxUploadBytes = 550 << 20 // request body cap, above the service's 500 MiB media limit

// Submitter accepts media and returns the remote job identifier.
// Implemented by upload.Uploader.
type Submitter interface {
	SubmitFile(ctx context.Context, path string, creds signature.Credentials) (string, error)
	SubmitURL(ctx context.Context, mediaURL string, creds signature.Credentials) (string, error)
}

// StatusPoller queries a job's status. Implemented by poll.Poller.
type StatusPoller interface {
	Poll(ctx context.Context, orderID string, creds signature.Credentials, useCache bool) (*poll.Result, error)
}

// HTTPServer provides the HTTP API: media submission, result retrieval and
// monitoring endpoints.
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	uploader    Submitter
	poller      StatusPoller
	resultCache *cache.Cache
	metrics     *metrics.Metrics
	downloader  *http.Client

	startTime     time.Time
	uploadsServed atomic.Int64
	resultsServed atomic.Int64
}

// NewHTTPServer creates the HTTP API server.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	uploader Submitter, poller StatusPoller, resultCache *cache.Cache, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		uploader:    uploader,
		poller:      poller,
		resultCache: resultCache,
		metrics:     m,
		downloader:  &http.Client{Timeout: 30 * time.Second},
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Minute, // large media uploads
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Submission endpoints
	mux.HandleFunc("/upload/file", h.withMetrics("/upload/file", h.handleUploadFile))
	mux.HandleFunc("/upload/url", h.withMetrics("/upload/url", h.handleUploadURL))
	mux.HandleFunc("/upload/direct_url", h.withMetrics("/upload/direct_url", h.handleUploadDirectURL))

	// Legacy alias for file submission
	mux.HandleFunc("/upload", h.withMetrics("/upload", h.handleUploadFile))

	// Result retrieval
	mux.HandleFunc("/result/", h.withMetrics("/result/{task_id}", h.handleResult))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// Handler returns the configured handler, for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// credentials resolves per-request credential overrides against the
// configured defaults. Overrides come as form fields or query parameters,
// never headers, to match the existing clients.
func (h *HTTPServer) credentials(appID, secretKey string) signature.Credentials {
	creds := signature.Credentials{
		AppID:     h.config.ASR.AppID,
		SecretKey: h.config.ASR.SecretKey,
	}
	if appID != "" {
		creds.AppID = appID
	}
	if secretKey != "" {
		creds.SecretKey = secretKey
	}
	return creds
}

// handleUploadFile implements POST /upload/file (and the legacy /upload
// alias): a multipart file upload, saved locally, submitted, then removed.
func (h *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	fileName := header.Filename
	if fileName == "" {
		fileName = "unknown_file"
	}

	savedPath, digest, err := h.saveUpload(file, fileName)
	if err != nil {
		h.logger.Error("Failed to save upload", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}
	defer h.removeLocal(savedPath)

	h.logger.Info("Upload received",
		slog.String("file_name", fileName),
		slog.String("digest", digest),
	)

	creds := h.credentials(r.FormValue("app_id"), r.FormValue("secret_key"))
	taskID, err := h.submit(r.Context(), savedPath, creds)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.uploadsServed.Add(1)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"source_type": "file",
		"file_name":   fileName,
		"digest":      digest,
	})
}

// urlRequest is the body of the URL submission endpoints.
type urlRequest struct {
	URL       string `json:"url"`
	AppID     string `json:"app_id"`
	SecretKey string `json:"secret_key"`
}

// handleUploadURL implements POST /upload/url: the media is downloaded
// locally first and then submitted like a file upload.
func (h *HTTPServer) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := h.decodeURLRequest(w, r)
	if !ok {
		return
	}

	savedPath, err := h.downloadToUploadDir(r.Context(), req.URL)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to download URL content: %v", err))
		return
	}
	defer h.removeLocal(savedPath)

	creds := h.credentials(req.AppID, req.SecretKey)
	taskID, err := h.submit(r.Context(), savedPath, creds)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.uploadsServed.Add(1)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"source_type": "url",
		"url":         req.URL,
	})
}

// handleUploadDirectURL implements POST /upload/direct_url: the URL is
// handed to the remote service, which downloads the media itself.
func (h *HTTPServer) handleUploadDirectURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := h.decodeURLRequest(w, r)
	if !ok {
		return
	}

	creds := h.credentials(req.AppID, req.SecretKey)

	h.metrics.RecordUploadStarted()
	start := time.Now()
	taskID, err := h.uploader.SubmitURL(r.Context(), req.URL, creds)
	if err != nil {
		h.metrics.RecordUploadFailed(time.Since(start).Seconds())
		h.writeSubmitError(w, err)
		return
	}
	h.metrics.RecordUploadSucceeded(time.Since(start).Seconds())

	h.uploadsServed.Add(1)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"source_type": "direct_url",
		"url":         req.URL,
	})
}

// handleResult implements GET /result/{task_id}.
func (h *HTTPServer) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/result/")
	if taskID == "" || strings.Contains(taskID, "/") {
		h.writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	useCache := true
	if v := r.URL.Query().Get("use_cache"); v != "" {
		useCache = v != "false" && v != "0"
	}

	creds := h.credentials(r.URL.Query().Get("app_id"), r.URL.Query().Get("secret_key"))

	res, err := h.poller.Poll(r.Context(), taskID, creds, useCache)
	if err != nil {
		h.logger.Error("Status query failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusBadGateway, "failed to query job status")
		return
	}

	if res.FromCache {
		h.metrics.RecordCacheHit()
	} else {
		h.metrics.RecordCacheMiss()
	}
	h.metrics.RecordPoll(string(res.Status))

	if res.Status == poll.StatusNotFound {
		h.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	h.resultsServed.Add(1)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     string(res.Status),
		"text":       res.Text,
		"from_cache": res.FromCache,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "lfasr-relay",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"result_cache": map[string]any{
				"status":  "running",
				"entries": h.resultCache.Len(),
			},
			"remote_api": map[string]any{
				"host":    h.config.ASR.APIHost,
				"version": h.config.ASR.APIVersion,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]any{
		"http": map[string]any{
			"port":       h.config.HTTP.Port,
			"address":    h.config.HTTP.Address,
			"upload_dir": h.config.HTTP.UploadDir,
		},
		"asr": map[string]any{
			"api_host":        h.config.ASR.APIHost,
			"api_version":     h.config.ASR.APIVersion,
			"language":        h.config.ASR.Language,
			"role_type":       h.config.ASR.RoleType,
			"speaker_number":  h.config.ASR.SpeakerNumber,
			"request_timeout": h.config.ASR.RequestTimeout,
			"poll_interval":   h.config.ASR.PollInterval,
			"poll_timeout":    h.config.ASR.PollTimeout,
			// Note: app_id and secret_key are intentionally omitted
		},
		"cache": map[string]any{
			"max_entries":      h.config.Cache.MaxEntries,
			"expiration_hours": h.config.Cache.ExpirationHours,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"uploads": map[string]any{
			"accepted": h.uploadsServed.Load(),
		},
		"results": map[string]any{
			"served": h.resultsServed.Load(),
		},
		"cache": map[string]any{
			"entries": h.resultCache.Len(),
		},
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	apiDoc := map[string]any{
		"service": "Long-Form ASR Relay",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                       "API documentation",
			"POST /upload/file":           "Submit a media file (multipart, field 'file')",
			"POST /upload/url":            "Download a media URL locally and submit it",
			"POST /upload/direct_url":     "Hand a media URL to the remote service",
			"GET /result/{task_id}":       "Get job status and transcript (?use_cache=false to bypass cache)",
			"GET /health":                 "Service health check",
			"GET /config":                 "Get sanitized service configuration",
			"GET /stats":                  "Get service statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

// decodeURLRequest reads and validates the JSON body of the URL endpoints.
func (h *HTTPServer) decodeURLRequest(w http.ResponseWriter, r *http.Request) (*urlRequest, bool) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return nil, false
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		h.writeError(w, http.StatusBadRequest, "url must start with http:// or https://")
		return nil, false
	}
	return &req, true
}

// submit sends a local file through the uploader, recording metrics.
func (h *HTTPServer) submit(ctx context.Context, path string, creds signature.Credentials) (string, error) {
	h.metrics.RecordUploadStarted()
	start := time.Now()

	taskID, err := h.uploader.SubmitFile(ctx, path, creds)
	if err != nil {
		h.metrics.RecordUploadFailed(time.Since(start).Seconds())
		return "", err
	}

	h.metrics.RecordUploadSucceeded(time.Since(start).Seconds())
	return taskID, nil
}

// saveUpload stores an incoming file under the upload directory with a
// unique name and returns the path and the blake3 digest of the content.
func (h *HTTPServer) saveUpload(src io.Reader, fileName string) (string, string, error) {
	dir := h.config.HTTP.UploadDir
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+"_"+filepath.Base(fileName))
	dst, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	hasher := blake3.New(32, nil)
	if _, err := io.Copy(io.MultiWriter(dst, hasher), src); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("failed to store upload: %w", err)
	}

	return path, hex.EncodeToString(hasher.Sum(nil)), nil
}

// downloadToUploadDir fetches a media URL into the upload directory.
func (h *HTTPServer) downloadToUploadDir(ctx context.Context, mediaURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := h.downloader.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("remote returned HTTP %d", resp.StatusCode)
	}

	fileName := "url_file"
	if parsed, err := url.Parse(mediaURL); err == nil {
		if base := filepath.Base(parsed.Path); base != "/" && base != "." {
			fileName = base
		}
	}

	path, digest, err := h.saveUpload(resp.Body, fileName)
	if err != nil {
		return "", err
	}

	h.logger.Info("URL content downloaded",
		slog.String("file_name", fileName),
		slog.String("digest", digest),
	)
	return path, nil
}

// removeLocal deletes a locally stored upload, logging removal failures.
func (h *HTTPServer) removeLocal(path string) {
	if err := os.Remove(path); err != nil {
		h.logger.Warn("Failed to remove stored upload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// writeSubmitError maps submission failures onto HTTP statuses: local
// validation problems are the client's fault, remote rejections and
// transport failures are upstream problems.
func (h *HTTPServer) writeSubmitError(w http.ResponseWriter, err error) {
	h.logger.Error("Submission failed", slog.String("error", err.Error()))

	var verr *upload.ValidationError
	if errors.As(err, &verr) {
		h.writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	var rerr *transport.RejectionError
	if errors.As(err, &rerr) {
		h.writeError(w, http.StatusBadGateway, rerr.Error())
		return
	}

	h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to process media: %v", err))
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, map[string]any{"detail": detail})
}
