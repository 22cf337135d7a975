package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dropwatch/internal/signing"
)

type recorder struct {
	payloads []string
	err      error
}

func (r *recorder) DeliverExternal(raw json.RawMessage) error {
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, string(raw))
	return nil
}

func post(t *testing.T, h http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(signing.Header, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResultsAcceptedWithoutSecret(t *testing.T) {
	target := &recorder{}
	h := New(":0", nil, target, nil).Handler()

	rec := post(t, h, `{"kind":"success"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{`{"kind":"success"}`}, target.payloads)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), resp["request_id"])
}

func TestResultsSignature(t *testing.T) {
	signer := signing.NewSigner([]byte("hook-secret"))
	body := `{"kind":"success"}`

	tests := []struct {
		name      string
		signature string
		wantCode  int
		delivered int
	}{
		{name: "valid", signature: signer.Sign([]byte(body)), wantCode: http.StatusAccepted, delivered: 1},
		{name: "missing", signature: "", wantCode: http.StatusUnauthorized},
		{name: "wrong", signature: strings.Repeat("0", 64), wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recorder{}
			rec := post(t, New(":0", signer, target, nil).Handler(), body, tt.signature)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Len(t, target.payloads, tt.delivered)
		})
	}
}

func TestResultsRejectedPayload(t *testing.T) {
	target := &recorder{err: errors.New("result payload is []interface {}, want object")}
	rec := post(t, New(":0", nil, target, nil).Handler(), `[1]`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "want object")
}

func TestResultsMethodAndHealth(t *testing.T) {
	h := New(":0", nil, &recorder{}, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestResultsKeepsCallerRequestID(t *testing.T) {
	h := New(":0", nil, &recorder{}, nil).Handler()
	req := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(`{"kind":"x"}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRunReturnsAfterShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", nil, &recorder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsListenError(t *testing.T) {
	srv := New("127.0.0.1:-1", nil, &recorder{}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked on a bad address")
	}
}
