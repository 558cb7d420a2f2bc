// Package registrar uploads local videos to the Gemini Files API and waits
// until the provider can use them.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"videoinsight/internal/logging"
	"videoinsight/internal/models"

	"google.golang.org/genai"
)

const DefaultPollInterval = 2 * time.Second

var ErrProcessingFailed = errors.New("provider failed to process the video")

// fileAPI is the part of genai.Files used here.
type fileAPI interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

var _ fileAPI = (*genai.Files)(nil)

// Client registers media with the provider. It holds no per-run state.
type Client struct {
	files        fileAPI
	pollInterval time.Duration
	logger       *slog.Logger
}

// New builds a registrar on top of the shared genai client.
func New(client *genai.Client, pollInterval time.Duration, logger *slog.Logger) (*Client, error) {
	if client == nil || client.Files == nil {
		return nil, errors.New("genai client required")
	}
	return newClient(client.Files, pollInterval, logger), nil
}

func newClient(files fileAPI, pollInterval time.Duration, logger *slog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{files: files, pollInterval: pollInterval, logger: logging.WithComponent(logger, "registrar")}
}

// Register uploads the file and blocks until it is ACTIVE. There is no retry:
// any provider error or a FAILED state is returned to the caller.
func (c *Client) Register(ctx context.Context, local *models.LocalMedia) (*models.RemoteMedia, error) {
	if local == nil || local.Path == "" {
		return nil, errors.New("local media handle required")
	}
	file, err := c.files.UploadFromPath(ctx, local.Path, &genai.UploadFileConfig{
		MIMEType:    local.MIMEType,
		DisplayName: filepath.Base(local.Path),
	})
	if err != nil {
		return nil, fmt.Errorf("upload video: %w", err)
	}
	c.logger.Info("video uploaded", "run_id", logging.RunIDFromContext(ctx), "name", file.Name, "state", file.State)

	file, err = c.waitForActive(ctx, file)
	if err != nil {
		return nil, err
	}
	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = local.MIMEType
	}
	return &models.RemoteMedia{
		Name:      file.Name,
		URI:       file.URI,
		MIMEType:  mimeType,
		ExpiresAt: file.ExpirationTime,
	}, nil
}

func (c *Client) waitForActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for {
		switch file.State {
		case genai.FileStateActive:
			return file, nil
		case genai.FileStateFailed:
			if file.Error != nil && file.Error.Message != "" {
				return nil, fmt.Errorf("%w: %s", ErrProcessingFailed, file.Error.Message)
			}
			return nil, ErrProcessingFailed
		}

		c.logger.Debug("waiting for video processing", "name", file.Name, "state", file.State)
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		next, err := c.files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll video state: %w", err)
		}
		file = next
	}
}

// Forget deletes the provider copy. Failures are logged only.
func (c *Client) Forget(ctx context.Context, remote *models.RemoteMedia) {
	if remote == nil || remote.Name == "" {
		return
	}
	if _, err := c.files.Delete(ctx, remote.Name, nil); err != nil {
		c.logger.Warn("delete remote video failed", "name", remote.Name, "error", err)
	}
}
