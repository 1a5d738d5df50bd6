package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/lfasr-relay/internal/cache"
	"github.com/skypro1111/lfasr-relay/internal/config"
	"github.com/skypro1111/lfasr-relay/internal/metrics"
	"github.com/skypro1111/lfasr-relay/internal/poll"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/upload"
)

// Prometheus collectors register globally, so all tests share one instance.
var testMetrics = metrics.NewMetrics()

type stubSubmitter struct {
	taskID   string
	err      error
	lastPath string
	lastURL  string
	creds    signature.Credentials
}

func (s *stubSubmitter) SubmitFile(_ context.Context, path string, creds signature.Credentials) (string, error) {
	s.lastPath = path
	s.creds = creds
	return s.taskID, s.err
}

func (s *stubSubmitter) SubmitURL(_ context.Context, mediaURL string, creds signature.Credentials) (string, error) {
	s.lastURL = mediaURL
	s.creds = creds
	return s.taskID, s.err
}

type stubPoller struct {
	result   *poll.Result
	err      error
	lastID   string
	useCache bool
}

func (s *stubPoller) Poll(_ context.Context, orderID string, _ signature.Credentials, useCache bool) (*poll.Result, error) {
	s.lastID = orderID
	s.useCache = useCache
	return s.result, s.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTP: config.HTTPConfig{
			Port:      8330,
			Address:   "127.0.0.1",
			Enabled:   true,
			UploadDir: t.TempDir(),
		},
		ASR: config.ASRConfig{
			APIHost:    "https://raasr.xfyun.cn/v2/api",
			APIVersion: "v2",
			AppID:      "cfg-app",
			SecretKey:  "cfg-secret",
		},
		Cache: config.CacheConfig{MaxEntries: 100, ExpirationHours: 24},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func newTestServer(t *testing.T, submitter *stubSubmitter, poller *stubPoller) *HTTPServer {
	t.Helper()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg.HTTP, logger, cfg, submitter, poller, cache.New(0, 0), testMetrics)
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write file content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestUploadFile(t *testing.T) {
	submitter := &stubSubmitter{taskID: "task-1"}
	h := newTestServer(t, submitter, &stubPoller{})

	body, contentType := multipartUpload(t, nil, "speech.wav", []byte("audio-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/upload/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["task_id"] != "task-1" {
		t.Errorf("expected task-1, got %v", got["task_id"])
	}
	if got["source_type"] != "file" {
		t.Errorf("expected source_type file, got %v", got["source_type"])
	}
	if got["file_name"] != "speech.wav" {
		t.Errorf("expected file_name speech.wav, got %v", got["file_name"])
	}
	if got["digest"] == "" {
		t.Error("expected a content digest")
	}

	// The stored copy is removed after submission.
	if submitter.lastPath == "" {
		t.Fatal("submitter never saw the stored file")
	}
	if _, err := os.Stat(submitter.lastPath); !os.IsNotExist(err) {
		t.Error("stored upload was not removed after submission")
	}
	// Configured credentials apply when the request carries none.
	if submitter.creds.AppID != "cfg-app" || submitter.creds.SecretKey != "cfg-secret" {
		t.Errorf("expected configured credentials, got %+v", submitter.creds)
	}
}

func TestUploadFileCredentialOverride(t *testing.T) {
	submitter := &stubSubmitter{taskID: "task-2"}
	h := newTestServer(t, submitter, &stubPoller{})

	fields := map[string]string{"app_id": "req-app", "secret_key": "req-secret"}
	body, contentType := multipartUpload(t, fields, "a.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/upload/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if submitter.creds.AppID != "req-app" || submitter.creds.SecretKey != "req-secret" {
		t.Errorf("expected request credentials to win, got %+v", submitter.creds)
	}
}

func TestUploadFileMissingFileField(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("app_id", "a")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/file", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestUploadFileValidationError(t *testing.T) {
	submitter := &stubSubmitter{err: &upload.ValidationError{Reason: "file is empty"}}
	h := newTestServer(t, submitter, &stubPoller{})

	body, contentType := multipartUpload(t, nil, "a.wav", []byte{})
	req := httptest.NewRequest(http.MethodPost, "/upload/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("validation errors map to 400, got %d", rec.Code)
	}
}

func TestUploadDirectURL(t *testing.T) {
	submitter := &stubSubmitter{taskID: "task-3"}
	h := newTestServer(t, submitter, &stubPoller{})

	payload := `{"url":"https://example.com/a.mp3"}`
	req := httptest.NewRequest(http.MethodPost, "/upload/direct_url", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["task_id"] != "task-3" || got["source_type"] != "direct_url" {
		t.Errorf("unexpected response: %v", got)
	}
	if submitter.lastURL != "https://example.com/a.mp3" {
		t.Errorf("submitter saw %q", submitter.lastURL)
	}
}

func TestUploadDirectURLRejectsBadScheme(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	payload := `{"url":"ftp://example.com/a.mp3"}`
	req := httptest.NewRequest(http.MethodPost, "/upload/direct_url", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestUploadURLDownloadsThenSubmits(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-media-bytes"))
	}))
	defer media.Close()

	submitter := &stubSubmitter{taskID: "task-4"}
	h := newTestServer(t, submitter, &stubPoller{})

	payload := `{"url":"` + media.URL + `/call.mp3"}`
	req := httptest.NewRequest(http.MethodPost, "/upload/url", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["task_id"] != "task-4" || got["source_type"] != "url" {
		t.Errorf("unexpected response: %v", got)
	}
	if !strings.Contains(filepath.Base(submitter.lastPath), "call.mp3") {
		t.Errorf("downloaded file name not preserved: %q", submitter.lastPath)
	}
	if _, err := os.Stat(submitter.lastPath); !os.IsNotExist(err) {
		t.Error("downloaded file was not removed after submission")
	}
}

func TestUploadURLDownloadFailure(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer media.Close()

	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	payload := `{"url":"` + media.URL + `/missing.mp3"}`
	req := httptest.NewRequest(http.MethodPost, "/upload/url", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on download failure, got %d", rec.Code)
	}
}

func TestResult(t *testing.T) {
	poller := &stubPoller{result: &poll.Result{Status: poll.StatusCompleted, Text: "hello", FromCache: true}}
	h := newTestServer(t, &stubSubmitter{}, poller)

	req := httptest.NewRequest(http.MethodGet, "/result/order-9", nil)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "completed" || got["text"] != "hello" || got["from_cache"] != true {
		t.Errorf("unexpected response: %v", got)
	}
	if poller.lastID != "order-9" {
		t.Errorf("poller saw %q", poller.lastID)
	}
	if !poller.useCache {
		t.Error("cache should be used by default")
	}
}

func TestResultCacheBypass(t *testing.T) {
	poller := &stubPoller{result: &poll.Result{Status: poll.StatusProcessing}}
	h := newTestServer(t, &stubSubmitter{}, poller)

	req := httptest.NewRequest(http.MethodGet, "/result/order-10?use_cache=false", nil)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if poller.useCache {
		t.Error("use_cache=false must bypass the cache")
	}
}

func TestResultNotFound(t *testing.T) {
	poller := &stubPoller{result: &poll.Result{Status: poll.StatusNotFound}}
	h := newTestServer(t, &stubSubmitter{}, poller)

	req := httptest.NewRequest(http.MethodGet, "/result/order-11", nil)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown job, got %d", rec.Code)
	}
}

func TestResultMissingID(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	req := httptest.NewRequest(http.MethodGet, "/result/", nil)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "healthy" {
		t.Errorf("unexpected health payload: %v", got)
	}
}

func TestConfigOmitsSecrets(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "cfg-app") || strings.Contains(body, "cfg-secret") {
		t.Error("config endpoint must not expose credentials")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{}, &stubPoller{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/upload/file"},
		{http.MethodGet, "/upload/url"},
		{http.MethodPost, "/result/order-1"},
		{http.MethodPost, "/health"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		h.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.path, rec.Code)
		}
	}
}
