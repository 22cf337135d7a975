// Package bus listens for results pushed over NATS.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/logger"
)

// Deliverer accepts a raw result payload in any supported shape.
type Deliverer interface {
	DeliverExternal(raw json.RawMessage) error
}

type Client struct {
	nc  *nats.Conn
	log *zap.Logger
}

func Connect(url string, log *zap.Logger) (*Client, error) {
	log = logger.OrNop(log)
	nc, err := nats.Connect(url,
		nats.Name("dropwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Client{nc: nc, log: log}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// SubscribeResults hands every message on subject to target.
func (c *Client) SubscribeResults(subject string, target Deliverer) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, resultHandler(target, c.log.With(zap.String("subject", subject))))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.log.Info("listening for pushed results", zap.String("subject", subject))
	return sub, nil
}

func resultHandler(target Deliverer, log *zap.Logger) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if len(msg.Data) == 0 {
			log.Debug("nats: empty result message ignored")
			return
		}
		if err := target.DeliverExternal(json.RawMessage(msg.Data)); err != nil {
			log.Warn("nats: result rejected", zap.Error(err))
		}
	}
}
