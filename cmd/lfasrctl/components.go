package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skypro1111/lfasr-relay/internal/cache"
	"github.com/skypro1111/lfasr-relay/internal/media"
	"github.com/skypro1111/lfasr-relay/internal/parse"
	"github.com/skypro1111/lfasr-relay/internal/poll"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/transport"
	"github.com/skypro1111/lfasr-relay/internal/upload"
)

// components bundles the pieces a single CLI invocation needs.
type components struct {
	logger   *slog.Logger
	creds    signature.Credentials
	uploader *upload.Uploader
	poller   *poll.Poller
}

// buildComponents wires transport, signer, uploader and poller from the
// CLI flags. Credentials fall back to the environment; missing ones are an
// error before any request is made.
func buildComponents() (*components, error) {
	creds := signature.Credentials{
		AppID:     flagAppID,
		SecretKey: flagSecretKey,
	}
	if creds.AppID == "" {
		creds.AppID = os.Getenv("XFYUN_APP_ID")
	}
	if creds.SecretKey == "" {
		creds.SecretKey = os.Getenv("XFYUN_SECRET_KEY")
	}
	if creds.AppID == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("credentials required: pass --app-id/--secret-key or set XFYUN_APP_ID and XFYUN_SECRET_KEY")
	}

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := transport.NewClient(transport.Config{
		BaseURL: flagAPIHost,
		Timeout: 3 * time.Minute,
	}, logger)
	if err != nil {
		return nil, err
	}

	signer, err := signature.ForAPIVersion(flagAPIVersion)
	if err != nil {
		return nil, err
	}

	extractor := &media.FFmpeg{Logger: logger}

	uploader := upload.NewUploader(client, signer, extractor, upload.Config{
		APIVersion: flagAPIVersion,
	}, logger)

	parser := parse.NewParser(logger)
	poller := poll.NewPoller(client, signer, parser, cache.New(0, 0), flagAPIVersion, logger)

	return &components{
		logger:   logger,
		creds:    creds,
		uploader: uploader,
		poller:   poller,
	}, nil
}
