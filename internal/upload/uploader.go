package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/skypro1111/lfasr-relay/internal/media"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/sliceid"
	"github.com/skypro1111/lfasr-relay/internal/transport"
)

const (
	// DefaultPieceSize is the chunk size of the legacy upload path.
	DefaultPieceSize = 10 * 1024 * 1024

	// DefaultMaxFileSize is the submission size limit imposed by the
	// remote service.
	DefaultMaxFileSize = 500 * 1024 * 1024
)

// ValidationError reports a submission rejected locally, before any request
// reaches the remote service.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// AudioExtractor pulls an audio track out of a video container into a
// temporary file. Implemented by media.FFmpeg.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

// Config contains uploader configuration. Zero values fall back to the
// remote service's defaults.
type Config struct {
	APIVersion    string // "v1" or "v2"
	Language      string
	RoleType      int
	SpeakerNumber int
	PieceSize     int64
	MaxFileSize   int64
}

// Uploader submits media to the remote transcription service. Submissions
// for distinct jobs may run concurrently; the pieces of one job are always
// sent sequentially.
type Uploader struct {
	client    *transport.Client
	signer    *signature.Signer
	extractor AudioExtractor
	logger    *slog.Logger
	cfg       Config
}

// NewUploader creates an Uploader. extractor may be nil, in which case video
// submissions are rejected with a ValidationError.
func NewUploader(client *transport.Client, signer *signature.Signer, extractor AudioExtractor, cfg Config, logger *slog.Logger) *Uploader {
	if cfg.Language == "" {
		cfg.Language = "cn"
	}
	if cfg.RoleType == 0 {
		cfg.RoleType = 1
	}
	if cfg.SpeakerNumber == 0 {
		cfg.SpeakerNumber = 2
	}
	if cfg.PieceSize <= 0 {
		cfg.PieceSize = DefaultPieceSize
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return &Uploader{
		client:    client,
		signer:    signer,
		extractor: extractor,
		logger:    logger,
		cfg:       cfg,
	}
}

// SubmitFile submits a local media file and returns the job identifier the
// remote service issued for it. Video containers have their audio track
// extracted first; the extracted temporary file is removed before return on
// every path.
func (u *Uploader) SubmitFile(ctx context.Context, path string, creds signature.Credentials) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("cannot access file %s: %v", path, err)}
	}
	if info.IsDir() {
		return "", &ValidationError{Reason: fmt.Sprintf("%s is a directory", path)}
	}

	if media.IsVideo(path) {
		if u.extractor == nil {
			return "", &ValidationError{Reason: "video submissions require an audio extractor"}
		}
		extracted, err := u.extractor.ExtractAudio(ctx, path)
		if err != nil {
			return "", fmt.Errorf("audio extraction failed: %w", err)
		}
		defer u.removeTemp(extracted)
		path = extracted

		if info, err = os.Stat(path); err != nil {
			return "", fmt.Errorf("cannot access extracted audio: %w", err)
		}
	}

	if info.Size() > u.cfg.MaxFileSize {
		return "", &ValidationError{Reason: fmt.Sprintf("file size %d exceeds limit of %d bytes", info.Size(), u.cfg.MaxFileSize)}
	}
	if info.Size() == 0 {
		return "", &ValidationError{Reason: "file is empty"}
	}

	u.logger.Info("Submitting file",
		slog.String("file", filepath.Base(path)),
		slog.Int64("size", info.Size()),
		slog.String("api_version", u.cfg.APIVersion),
	)

	if u.cfg.APIVersion == "v1" {
		return u.submitChunked(ctx, path, info.Size(), creds)
	}
	return u.submitStream(ctx, path, info.Size(), creds)
}

// SubmitURL submits a remote media URL. The remote service downloads the
// media itself; size and duration are nominal placeholders on this path.
func (u *Uploader) SubmitURL(ctx context.Context, mediaURL string, creds signature.Credentials) (string, error) {
	parsed, err := url.Parse(mediaURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", &ValidationError{Reason: fmt.Sprintf("not a valid http(s) URL: %s", mediaURL)}
	}
	if u.cfg.APIVersion == "v1" {
		return "", &ValidationError{Reason: "URL submission is not supported by the legacy API"}
	}

	fileName := filepath.Base(parsed.Path)
	if fileName == "/" || fileName == "." {
		fileName = "audio"
	}

	params := u.signer.AuthParams(creds)
	params.Set("language", u.cfg.Language)
	params.Set("roleType", strconv.Itoa(u.cfg.RoleType))
	params.Set("roleNum", strconv.Itoa(u.cfg.SpeakerNumber))
	params.Set("fileName", fileName)
	params.Set("fileSize", "10000000")
	params.Set("duration", "600")
	params.Set("audioMode", "urlLink")
	params.Set("audioUrl", mediaURL)

	u.logger.Info("Submitting URL", slog.String("file_name", fileName))

	resp, err := u.client.Send(ctx, "upload", params, nil)
	if err != nil {
		return "", fmt.Errorf("URL submission failed: %w", err)
	}
	if !resp.OK() {
		return "", &transport.RejectionError{Endpoint: "upload", Code: resp.Code, Message: resp.Message}
	}
	return orderIDFrom(resp)
}

// submitStream sends the whole file in one request (the V2 "fileStream"
// mode). Duration is the service's rough estimate of one second per 16000
// bytes.
func (u *Uploader) submitStream(ctx context.Context, path string, size int64, creds signature.Credentials) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	fileName := filepath.Base(path)
	params := u.signer.AuthParams(creds)
	params.Set("language", u.cfg.Language)
	params.Set("roleType", strconv.Itoa(u.cfg.RoleType))
	params.Set("roleNum", strconv.Itoa(u.cfg.SpeakerNumber))
	params.Set("fileName", fileName)
	params.Set("fileSize", strconv.FormatInt(size, 10))
	params.Set("duration", strconv.FormatInt(size/16000, 10))
	params.Set("audioMode", "fileStream")

	file := &transport.FilePart{
		FieldName:   "file",
		FileName:    fileName,
		ContentType: "audio/wav",
		Content:     content,
	}

	resp, err := u.client.Send(ctx, "upload", params, file)
	if err != nil {
		return "", fmt.Errorf("file submission failed: %w", err)
	}
	if !resp.OK() {
		return "", &transport.RejectionError{Endpoint: "upload", Code: resp.Code, Message: resp.Message}
	}
	return orderIDFrom(resp)
}

// submitChunked runs the legacy prepare/upload/merge sequence. Pieces are
// sent strictly in order; the merge step depends on it.
func (u *Uploader) submitChunked(ctx context.Context, path string, size int64, creds signature.Credentials) (string, error) {
	fileName := filepath.Base(path)
	sliceNum := (size + u.cfg.PieceSize - 1) / u.cfg.PieceSize

	params := u.signer.AuthParams(creds)
	params.Set("file_len", strconv.FormatInt(size, 10))
	params.Set("file_name", fileName)
	params.Set("slice_num", strconv.FormatInt(sliceNum, 10))
	params.Set("has_seperate", "true")
	params.Set("speaker_number", strconv.Itoa(u.cfg.SpeakerNumber))
	params.Set("lfasr_type", "0")

	resp, err := u.client.Send(ctx, "prepare", params, nil)
	if err != nil {
		return "", fmt.Errorf("prepare failed: %w", err)
	}
	if !resp.OK() {
		return "", &transport.RejectionError{Endpoint: "prepare", Code: resp.Code, Message: resp.Message}
	}

	var taskID string
	if err := json.Unmarshal(resp.Content, &taskID); err != nil || taskID == "" {
		return "", &transport.DecodeError{Endpoint: "prepare", Err: fmt.Errorf("response carries no task id"), Body: string(resp.Body)}
	}

	if err := u.uploadPieces(ctx, path, taskID, creds); err != nil {
		return "", err
	}

	params = u.signer.AuthParams(creds)
	params.Set("task_id", taskID)
	params.Set("file_name", fileName)

	resp, err = u.client.Send(ctx, "merge", params, nil)
	if err != nil {
		return "", fmt.Errorf("merge failed: %w", err)
	}
	if !resp.OK() {
		return "", &transport.RejectionError{Endpoint: "merge", Code: resp.Code, Message: resp.Message}
	}

	u.logger.Info("Chunked upload complete",
		slog.String("task_id", taskID),
		slog.Int64("pieces", sliceNum),
	)
	return taskID, nil
}

func (u *Uploader) uploadPieces(ctx context.Context, path, taskID string, creds signature.Credentials) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	gen := sliceid.NewGenerator()
	buf := make([]byte, u.cfg.PieceSize)

	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			id := gen.Next()
			params := u.signer.AuthParams(creds)
			params.Set("task_id", taskID)
			params.Set("slice_id", id)

			piece := &transport.FilePart{
				FieldName: "content",
				FileName:  id,
				Content:   buf[:n],
			}

			resp, sendErr := u.client.Send(ctx, "upload", params, piece)
			if sendErr != nil {
				return fmt.Errorf("piece %s upload failed: %w", id, sendErr)
			}
			if !resp.OK() {
				return &transport.RejectionError{Endpoint: "upload", Code: resp.Code, Message: resp.Message}
			}
			u.logger.Debug("Piece uploaded",
				slog.String("task_id", taskID),
				slog.String("slice_id", id),
				slog.Int("bytes", n),
			)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read piece: %w", err)
		}
	}
}

// removeTemp deletes an extracted audio file. Removal failure is logged,
// never surfaced: the submission outcome must not depend on local cleanup.
func (u *Uploader) removeTemp(path string) {
	if err := os.Remove(path); err != nil {
		u.logger.Warn("Failed to remove extracted audio",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// orderIDFrom extracts the job identifier from an upload response. The
// current service nests it under content; older responses carried it at the
// top level.
func orderIDFrom(resp *transport.RawResponse) (string, error) {
	var content struct {
		OrderID string `json:"orderId"`
	}
	if len(resp.Content) > 0 {
		if err := json.Unmarshal(resp.Content, &content); err == nil && content.OrderID != "" {
			return content.OrderID, nil
		}
	}
	var top struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Body, &top); err == nil && top.OrderID != "" {
		return top.OrderID, nil
	}
	return "", &transport.DecodeError{Endpoint: "upload", Err: fmt.Errorf("response carries no orderId"), Body: string(resp.Body)}
}
