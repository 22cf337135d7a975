package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/s3storage"
)

// PresignRequest is the body sent to the presign collaborator.
type PresignRequest struct {
	AnonID   string `json:"anon_id"`
	WidgetID string `json:"widget_id"`
	MimeType string `json:"mime"`
	Size     int64  `json:"size"`
	FileName string `json:"fileName"`
}

// Presigned is where to PUT a file and the key it will be stored under.
type Presigned struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

// Presigner hands out upload URLs.
type Presigner interface {
	Presign(ctx context.Context, req PresignRequest) (Presigned, error)
}

// PresignStatusError is a non-success answer from the presign endpoint.
type PresignStatusError struct {
	StatusCode int
	Body       string
}

func (e *PresignStatusError) Error() string {
	return fmt.Sprintf("Presign failed: %d %s", e.StatusCode, e.Body)
}

// HTTPPresigner calls the hosted presign function with a bearer token.
type HTTPPresigner struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPPresigner returns a presigner for endpoint.
func NewHTTPPresigner(endpoint, token string, timeout time.Duration, log *zap.Logger) *HTTPPresigner {
	client := resty.New().
		SetLogger(logger.OrNop(log).Sugar()).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPPresigner{client: client, endpoint: endpoint}
}

// Presign implements Presigner.
func (p *HTTPPresigner) Presign(ctx context.Context, req PresignRequest) (Presigned, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(p.endpoint)
	if err != nil {
		return Presigned{}, fmt.Errorf("presign request: %w", err)
	}
	if resp.IsError() {
		return Presigned{}, &PresignStatusError{
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(resp.String()),
		}
	}
	var out Presigned
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Presigned{}, fmt.Errorf("decode presign response: %w", err)
	}
	if out.UploadURL == "" || out.Key == "" {
		return Presigned{}, errors.New("presign response is missing uploadUrl or key")
	}
	return out, nil
}

// ObjectPresigner signs PUT URLs for a bucket key.
type ObjectPresigner interface {
	PresignPut(ctx context.Context, objectKey string) (string, error)
}

// MinioPresigner signs uploads directly against the bucket, without the
// hosted function.
type MinioPresigner struct {
	store ObjectPresigner
	now   func() time.Time
}

// NewMinioPresigner wraps store, typically a *s3storage.Storage.
func NewMinioPresigner(store ObjectPresigner) *MinioPresigner {
	return &MinioPresigner{store: store, now: time.Now}
}

// Presign implements Presigner.
func (p *MinioPresigner) Presign(ctx context.Context, req PresignRequest) (Presigned, error) {
	key := s3storage.ObjectKey(req.AnonID, req.WidgetID, req.FileName, p.now())
	u, err := p.store.PresignPut(ctx, key)
	if err != nil {
		return Presigned{}, err
	}
	return Presigned{UploadURL: u, Key: key}, nil
}
