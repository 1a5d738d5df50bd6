package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/lfasr-relay/internal/cache"
	"github.com/skypro1111/lfasr-relay/internal/parse"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/transport"
)

// Status is the local view of a remote job's state. The remote service has
// several pre-terminal states (created, queued, uploading, processing); they
// all map to StatusProcessing because a caller can do nothing different with
// any of them.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNotFound   Status = "not_found"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNotFound:
		return true
	}
	return false
}

const (
	// DefaultInterval is the pause between polls in Wait.
	DefaultInterval = 10 * time.Second

	// DefaultTimeout bounds a single Wait call.
	DefaultTimeout = time.Hour
)

// failReasons maps the remote failType field to a readable explanation.
var failReasons = map[int]string{
	1:  "unsupported audio format",
	2:  "audio could not be recognized",
	3:  "audio duration exceeds the limit",
	4:  "audio size exceeds the limit",
	5:  "audio download failed",
	6:  "audio decoding failed",
	7:  "no speech detected",
	8:  "transcription engine error",
	9:  "insufficient account balance",
	10: "transcription timed out",
	11: "other error",
}

// FailReason renders a remote failType as a readable explanation.
func FailReason(failType int) string {
	if reason, ok := failReasons[failType]; ok {
		return reason
	}
	return "unknown error"
}

// TimeoutError reports that Wait gave up before the job reached a terminal
// state. It is distinct from a remote-reported failure: the job may still
// complete later.
type TimeoutError struct {
	OrderID string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not finish within %s", e.OrderID, e.Timeout)
}

// Result is the outcome of one poll. Text carries the transcript for
// StatusCompleted and a human-readable reason for StatusFailed; FromCache
// marks an answer served without a remote call.
type Result struct {
	Status    Status
	Text      string
	FromCache bool

	// noCache marks a failure caused by a service-side condition that may
	// clear on the next attempt; such outcomes are not cached.
	noCache bool
}

// Poller queries job status and caches terminal outcomes. Safe for
// concurrent use; the cache serializes its own mutations.
type Poller struct {
	client     *transport.Client
	signer     *signature.Signer
	parser     *parse.Parser
	cache      *cache.Cache
	logger     *slog.Logger
	apiVersion string
}

// NewPoller creates a Poller for the given API generation ("v1" or "v2").
func NewPoller(client *transport.Client, signer *signature.Signer, parser *parse.Parser, resultCache *cache.Cache, apiVersion string, logger *slog.Logger) *Poller {
	return &Poller{
		client:     client,
		signer:     signer,
		parser:     parser,
		cache:      resultCache,
		logger:     logger,
		apiVersion: apiVersion,
	}
}

// Poll returns the job's current status, consulting the cache first when
// useCache is set. Terminal outcomes are cached before return. Transport
// failures surface as errors so callers can retry; a well-formed remote
// answer never does.
func (p *Poller) Poll(ctx context.Context, orderID string, creds signature.Credentials, useCache bool) (*Result, error) {
	if useCache {
		if entry, ok := p.cache.Get(orderID); ok {
			p.logger.Debug("Cache hit", slog.String("order_id", orderID), slog.String("status", entry.Status))
			return &Result{Status: Status(entry.Status), Text: entry.Text, FromCache: true}, nil
		}
	}

	var res *Result
	var err error
	if p.apiVersion == "v1" {
		res, err = p.pollLegacy(ctx, orderID, creds)
	} else {
		res, err = p.pollOrder(ctx, orderID, creds)
	}
	if err != nil {
		return nil, err
	}

	if res.Status.Terminal() && !res.noCache {
		p.cache.Set(orderID, string(res.Status), res.Text)
	}
	return res, nil
}

// orderContent is the V2 getResult payload.
type orderContent struct {
	OrderInfo *struct {
		Status   *int `json:"status"`
		FailType int  `json:"failType"`
	} `json:"orderInfo"`
	OrderResult      json.RawMessage `json:"orderResult"`
	TaskEstimateTime int64           `json:"taskEstimateTime"`
}

func (p *Poller) pollOrder(ctx context.Context, orderID string, creds signature.Credentials) (*Result, error) {
	params := p.signer.AuthParams(creds)
	params.Set("orderId", orderID)

	resp, err := p.client.Send(ctx, "getResult", params, nil)
	if err != nil {
		// A malformed body is a remote answer, not a transport failure:
		// treat it as failed with the raw response preserved.
		var derr *transport.DecodeError
		if errors.As(err, &derr) {
			p.logger.Error("Undecodable status response",
				slog.String("order_id", orderID),
				slog.String("body", derr.Body),
			)
			return &Result{Status: StatusFailed, Text: "malformed remote response"}, nil
		}
		return nil, err
	}

	if !resp.OK() {
		return p.mapRejection(orderID, resp), nil
	}

	// Code "0" marks the older response format, which carries the status at
	// the top level with the result fields alongside it.
	if resp.Code == "0" {
		return p.pollTopLevel(orderID, resp)
	}

	var content orderContent
	if len(resp.Content) > 0 {
		if err := json.Unmarshal(resp.Content, &content); err != nil {
			p.logger.Error("Unexpected status payload",
				slog.String("order_id", orderID),
				slog.String("body", string(resp.Body)),
			)
			return &Result{Status: StatusFailed, Text: "malformed remote response"}, nil
		}
	}

	if content.OrderInfo == nil || content.OrderInfo.Status == nil {
		return &Result{Status: StatusProcessing}, nil
	}

	switch status := *content.OrderInfo.Status; status {
	case 4:
		if len(content.OrderResult) == 0 || string(content.OrderResult) == "null" {
			p.logger.Error("Completed job carries no result", slog.String("order_id", orderID))
			return &Result{Status: StatusFailed, Text: "transcription produced no result"}, nil
		}
		text := p.parser.Parse(content.OrderResult).Render()
		return &Result{Status: StatusCompleted, Text: text}, nil
	case 0, 1, 2, 3:
		p.logger.Debug("Job in progress",
			slog.String("order_id", orderID),
			slog.Int("remote_status", status),
			slog.Int64("estimate_ms", content.TaskEstimateTime),
		)
		return &Result{Status: StatusProcessing}, nil
	case 9:
		p.logger.Info("Job failed",
			slog.String("order_id", orderID),
			slog.Int("fail_type", content.OrderInfo.FailType),
			slog.String("reason", FailReason(content.OrderInfo.FailType)),
		)
		return &Result{Status: StatusFailed, Text: FailReason(content.OrderInfo.FailType)}, nil
	default:
		p.logger.Error("Unexpected job status",
			slog.String("order_id", orderID),
			slog.Int("remote_status", status),
		)
		return &Result{Status: StatusFailed, Text: fmt.Sprintf("unexpected remote status %d", status)}, nil
	}
}

// pollTopLevel handles the older response format where status and result
// share the top level of the body.
func (p *Poller) pollTopLevel(orderID string, resp *transport.RawResponse) (*Result, error) {
	var top struct {
		Status *int `json:"status"`
	}
	if err := json.Unmarshal(resp.Body, &top); err != nil || top.Status == nil {
		// Success code but no recognizable status: still in flight.
		return &Result{Status: StatusProcessing}, nil
	}

	switch status := *top.Status; status {
	case 4:
		payload := resp.Content
		if len(payload) == 0 {
			payload = resp.Body
		}
		text := p.parser.Parse(payload).Render()
		return &Result{Status: StatusCompleted, Text: text}, nil
	case 0, 1, 2, 3:
		return &Result{Status: StatusProcessing}, nil
	default:
		p.logger.Error("Unexpected job status",
			slog.String("order_id", orderID),
			slog.Int("remote_status", status),
		)
		return &Result{Status: StatusFailed, Text: fmt.Sprintf("unexpected remote status %d", status)}, nil
	}
}

// mapRejection maps remote error codes from a status query. Code 26602
// means the job id was never issued. Codes 10001-10015 are service-side
// conditions (bad parameters, busy, rate limits); they fail the query but
// are not cached because the next attempt may succeed.
func (p *Poller) mapRejection(orderID string, resp *transport.RawResponse) *Result {
	if resp.Code == "26602" {
		p.logger.Info("Job not found", slog.String("order_id", orderID))
		return &Result{Status: StatusNotFound}
	}

	p.logger.Error("Status query rejected",
		slog.String("order_id", orderID),
		slog.String("code", resp.Code),
		slog.String("message", resp.Message),
	)

	reason := rejectionReason(resp)
	switch resp.Code {
	case "10001", "10002", "10003", "10004", "10005", "10006", "10007",
		"10008", "10009", "10010", "10011", "10012", "10013", "10014", "10015":
		return &Result{Status: StatusFailed, Text: reason, noCache: true}
	}
	return &Result{Status: StatusFailed, Text: reason}
}

// rejectionReason picks the remote message when one is present, or falls
// back to the bare error code.
func rejectionReason(resp *transport.RawResponse) string {
	if resp.Message != "" {
		return resp.Message
	}
	return "remote error " + resp.Code
}

// legacyProgress is the V1 getProgress payload, itself JSON-encoded as a
// string inside the data field.
type legacyProgress struct {
	Status int    `json:"status"`
	Desc   string `json:"desc"`
}

// pollLegacy drives the V1 getProgress/getResult pair. Progress status 9
// means the transcript is ready; any non-negative other value is still in
// flight.
func (p *Poller) pollLegacy(ctx context.Context, taskID string, creds signature.Credentials) (*Result, error) {
	params := p.signer.AuthParams(creds)
	params.Set("task_id", taskID)

	resp, err := p.client.Send(ctx, "getProgress", params, nil)
	if err != nil {
		var derr *transport.DecodeError
		if errors.As(err, &derr) {
			p.logger.Error("Undecodable progress response",
				slog.String("task_id", taskID),
				slog.String("body", derr.Body),
			)
			return &Result{Status: StatusFailed, Text: "malformed remote response"}, nil
		}
		return nil, err
	}
	if !resp.OK() {
		p.logger.Error("Progress query rejected",
			slog.String("task_id", taskID),
			slog.String("code", resp.Code),
			slog.String("message", resp.Message),
		)
		return &Result{Status: StatusFailed, Text: rejectionReason(resp)}, nil
	}

	progress, err := decodeLegacyProgress(resp.Content)
	if err != nil {
		p.logger.Error("Unexpected progress payload",
			slog.String("task_id", taskID),
			slog.String("body", string(resp.Body)),
		)
		return &Result{Status: StatusFailed, Text: "malformed remote response"}, nil
	}

	switch {
	case progress.Status == 9:
		return p.fetchLegacyResult(ctx, taskID, creds)
	case progress.Status >= 0:
		p.logger.Debug("Job in progress",
			slog.String("task_id", taskID),
			slog.Int("remote_status", progress.Status),
			slog.String("desc", progress.Desc),
		)
		return &Result{Status: StatusProcessing}, nil
	default:
		return &Result{Status: StatusFailed, Text: progress.Desc}, nil
	}
}

func (p *Poller) fetchLegacyResult(ctx context.Context, taskID string, creds signature.Credentials) (*Result, error) {
	params := p.signer.AuthParams(creds)
	params.Set("task_id", taskID)

	resp, err := p.client.Send(ctx, "getResult", params, nil)
	if err != nil {
		var derr *transport.DecodeError
		if errors.As(err, &derr) {
			return &Result{Status: StatusFailed, Text: "malformed remote response"}, nil
		}
		return nil, err
	}
	if !resp.OK() {
		p.logger.Error("Result query rejected",
			slog.String("task_id", taskID),
			slog.String("code", resp.Code),
			slog.String("message", resp.Message),
		)
		return &Result{Status: StatusFailed, Text: rejectionReason(resp)}, nil
	}

	text := p.parser.Parse(resp.Content).Render()
	return &Result{Status: StatusCompleted, Text: text}, nil
}

// decodeLegacyProgress accepts both a direct object and the usual
// string-encoded form of the progress payload.
func decodeLegacyProgress(raw json.RawMessage) (*legacyProgress, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("progress payload is empty")
	}
	var progress legacyProgress
	if err := json.Unmarshal(raw, &progress); err == nil {
		return &progress, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("unrecognized progress payload")
	}
	if err := json.Unmarshal([]byte(encoded), &progress); err != nil {
		return nil, fmt.Errorf("unrecognized progress payload: %w", err)
	}
	return &progress, nil
}

// Wait polls until the job reaches a terminal state or timeout elapses,
// sleeping interval between non-terminal polls. Transient transport errors
// do not abort the loop. The deadline is honored even if the remote side
// never terminates; expiry yields a *TimeoutError.
func (p *Poller) Wait(ctx context.Context, orderID string, creds signature.Credentials, interval, timeout time.Duration) (*Result, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		res, err := p.Poll(ctx, orderID, creds, true)
		if err != nil {
			p.logger.Warn("Poll attempt failed, will retry",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		} else if res.Status.Terminal() {
			return res, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{OrderID: orderID, Timeout: timeout}
		}

		pause := interval
		if remaining < pause {
			pause = remaining
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
