package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config contains transport client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// FilePart is an optional file payload attached to a request as
// multipart/form-data.
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     []byte
}

// RawResponse is the normalized shape of a successful exchange with the
// remote service. Code carries the remote's numeric or string result code
// rendered as a string; Content carries the nested payload ("content" on
// the V2 API, "data" on V1). Body preserves the raw bytes for diagnostics.
type RawResponse struct {
	Code       string
	Message    string
	Content    json.RawMessage
	HTTPStatus int
	Body       []byte
}

// OK reports whether the remote result code signals success.
func (r *RawResponse) OK() bool {
	switch r.Code {
	case "0", "000000":
		return true
	}
	return false
}

// Client sends signed requests to the remote transcription service. It is
// stateless per call and safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a transport client for the given API host.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Send issues one form-encoded POST to the named endpoint and normalizes
// the outcome. Failures come back as *RequestError, *StatusError or
// *DecodeError; a decoded body is returned even when the remote result code
// signals an application-level error, so callers can map codes themselves.
func (c *Client) Send(ctx context.Context, endpoint string, params url.Values, file *FilePart) (*RawResponse, error) {
	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	var body io.Reader
	contentType := "application/x-www-form-urlencoded; charset=UTF-8"

	if file != nil {
		buf, ct, err := multipartBody(params, file)
		if err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
		body = buf
		contentType = ct
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Sending API request",
		slog.String("endpoint", endpoint),
		slog.String("params", redactParams(params)),
		slog.Bool("has_file", file != nil),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 512),
		}
	}

	decoded, err := decodeEnvelope(raw)
	if err != nil {
		return nil, &DecodeError{
			Endpoint: endpoint,
			Err:      err,
			Body:     truncate(string(raw), 512),
		}
	}
	decoded.HTTPStatus = resp.StatusCode
	decoded.Body = raw

	c.logger.Debug("API response received",
		slog.String("endpoint", endpoint),
		slog.String("code", decoded.Code),
		slog.Int("http_status", resp.StatusCode),
	)

	return decoded, nil
}

// envelope covers both API generations: V2 responds with
// {code, descInfo, content}; V1 with {ok, failed, data}.
type envelope struct {
	Code     json.RawMessage `json:"code"`
	DescInfo string          `json:"descInfo"`
	Message  string          `json:"message"`
	OK       *json.Number    `json:"ok"`
	Failed   string          `json:"failed"`
	Content  json.RawMessage `json:"content"`
	Data     json.RawMessage `json:"data"`
}

func decodeEnvelope(raw []byte) (*RawResponse, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	resp := &RawResponse{}

	switch {
	case len(env.Code) > 0:
		resp.Code = normalizeCode(env.Code)
		resp.Message = env.DescInfo
		if resp.Message == "" {
			resp.Message = env.Message
		}
	case env.OK != nil:
		resp.Code = env.OK.String()
		resp.Message = env.Failed
	default:
		return nil, fmt.Errorf("response carries neither code nor ok field")
	}

	if len(env.Content) > 0 {
		resp.Content = env.Content
	} else {
		resp.Content = env.Data
	}

	return resp, nil
}

// normalizeCode renders a JSON number or string code as a plain string,
// preserving leading zeros of string codes like "000000".
func normalizeCode(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func multipartBody(params url.Values, file *FilePart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key := range params {
		if err := writer.WriteField(key, params.Get(key)); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name=%q; filename=%q`, file.FieldName, file.FileName),
	}
	if file.ContentType != "" {
		header["Content-Type"] = []string{file.ContentType}
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write file content: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// redactParams renders request parameters for logging with the signature
// masked. Secrets never reach the transport, but the signature is derived
// from one and is masked as well.
func redactParams(params url.Values) string {
	parts := make([]string, 0, len(params))
	for key := range params {
		value := params.Get(key)
		if key == "signa" {
			value = "***"
		}
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, "&")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
