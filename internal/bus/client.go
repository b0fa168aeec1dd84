// Package bus wraps the NATS connection used by the request/reply transport.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

// Client is a connected NATS client.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the servers in cfg, or url when it is non-empty (the
// embedded server address).
func Connect(ctx context.Context, cfg config.BusConfig, name, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = logging.Discard()
	}
	if url == "" {
		if len(cfg.Servers) == 0 {
			return nil, errors.New("no NATS servers configured")
		}
		url = strings.Join(cfg.Servers, ",")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	options := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url))
	return &Client{conn: conn, log: log}, nil
}

// Close drains and closes the connection. Safe on a nil client.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
