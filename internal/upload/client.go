// Package upload performs the presign-then-PUT handshake for a batch of
// files, one file at a time.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/apperr"
	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/model"
)

// Options configures a Client.
type Options struct {
	AnonID   string
	WidgetID string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client uploads batches through a Presigner.
type Client struct {
	presigner Presigner
	http      *resty.Client
	anonID    string
	widgetID  string
	log       *zap.Logger
	now       func() time.Time
}

// NewClient returns a Client.
func NewClient(p Presigner, opts Options) *Client {
	log := logger.OrNop(opts.Logger)
	httpClient := resty.New().SetLogger(log.Sugar())
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}
	return &Client{
		presigner: p,
		http:      httpClient,
		anonID:    opts.AnonID,
		widgetID:  opts.WidgetID,
		log:       log,
		now:       time.Now,
	}
}

// Upload sends files in order. The first failure aborts the batch: the
// returned *apperr.UploadError names the file, and later files are never
// presigned or sent.
func (c *Client) Upload(ctx context.Context, files []FileBlob) ([]model.UploadedFile, error) {
	out := make([]model.UploadedFile, 0, len(files))
	for i, f := range files {
		uploaded, err := c.uploadOne(ctx, i, f)
		if err != nil {
			c.log.Warn("upload: batch aborted",
				zap.Int("index", i),
				zap.String("file", f.Name),
				zap.Int("remaining", len(files)-i-1),
				zap.Error(err))
			return nil, err
		}
		out = append(out, uploaded)
	}
	return out, nil
}

func (c *Client) uploadOne(ctx context.Context, index int, f FileBlob) (model.UploadedFile, error) {
	fail := func(stage apperr.Stage, msg string, cause error) error {
		return &apperr.UploadError{Stage: stage, Index: index, FileName: f.Name, Message: msg, Cause: cause}
	}

	signed, err := c.presigner.Presign(ctx, PresignRequest{
		AnonID:   c.anonID,
		WidgetID: c.widgetID,
		MimeType: f.MimeType,
		Size:     f.Size,
		FileName: f.Name,
	})
	if err != nil {
		var statusErr *PresignStatusError
		if errors.As(err, &statusErr) {
			return model.UploadedFile{}, fail(apperr.StagePresign, statusErr.Error(), err)
		}
		return model.UploadedFile{}, fail(apperr.StagePresign, "Presign failed", err)
	}
	c.log.Debug("upload: presigned", zap.String("file", f.Name), zap.String("key", signed.Key))

	body, err := readBlob(f)
	if err != nil {
		return model.UploadedFile{}, fail(apperr.StagePut, "Upload failed", err)
	}
	// The body is buffered so the PUT carries a Content-Length, which signed
	// URLs require.
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", f.MimeType).
		SetBody(body).
		Put(signed.UploadURL)
	if err != nil {
		return model.UploadedFile{}, fail(apperr.StagePut, "Upload failed", err)
	}
	if resp.IsError() {
		return model.UploadedFile{}, fail(apperr.StagePut, "Upload failed", fmt.Errorf("put status %d", resp.StatusCode()))
	}

	c.log.Info("upload: stored", zap.String("file", f.Name), zap.String("key", signed.Key), zap.Int("bytes", len(body)))
	return model.UploadedFile{
		StorageKey:   signed.Key,
		OriginalName: f.Name,
		MimeType:     f.MimeType,
		SizeBytes:    uint64(len(body)),
		UploadedAt:   c.now(),
	}, nil
}

func readBlob(f FileBlob) ([]byte, error) {
	if f.Open == nil {
		return nil, errors.New("file has no content")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return body, nil
}
