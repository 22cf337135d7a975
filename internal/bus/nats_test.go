package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recorder struct {
	payloads []string
	err      error
}

func (r *recorder) DeliverExternal(raw json.RawMessage) error {
	r.payloads = append(r.payloads, string(raw))
	return r.err
}

func TestResultHandler(t *testing.T) {
	target := &recorder{}
	h := resultHandler(target, zap.NewNop())

	h(&nats.Msg{Subject: "widgets.compress.results", Data: []byte(`{"kind":"success"}`)})
	h(&nats.Msg{Subject: "widgets.compress.results"})

	assert.Equal(t, []string{`{"kind":"success"}`}, target.payloads)
}

func TestResultHandlerSurvivesRejection(t *testing.T) {
	target := &recorder{err: errors.New("invalid")}
	h := resultHandler(target, zap.NewNop())

	assert.NotPanics(t, func() {
		h(&nats.Msg{Data: []byte(`[]`)})
	})
	assert.Len(t, target.payloads, 1)
}
