package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/radbridge/logger"
)

// NATSConfig configures a NATSClient.
type NATSConfig struct {
	URL      string
	Name     string
	Username string
	Password string
	// WillTopic receives Offline when the client closes. NATS has no broker-side
	// last will, so an unclean exit leaves it unpublished.
	WillTopic     string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
	Timeout       time.Duration
}

// NATSClient publishes bridge messages as NATS subjects.
type NATSClient struct {
	cfg    NATSConfig
	conn   *nats.Conn
	logger logger.Logger
}

var _ Publisher = (*NATSClient)(nil)

// NewNATSClient creates an unconnected NATSClient.
func NewNATSClient(cfg NATSConfig, l logger.Logger) *NATSClient {
	if l == nil {
		l = logger.GetLogger()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &NATSClient{cfg: cfg, logger: l.With("component", "nats")}
}

func (c *NATSClient) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.PingInterval(c.cfg.PingInterval),
		nats.Timeout(c.cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.logger.Debug("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("NATS async error", "error", err)
		}),
	}

	if c.cfg.Username != "" && c.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Name != "" {
		opts = append(opts, nats.Name(c.cfg.Name))
	}

	return opts
}

// Connect dials the server and waits until connected or ctx is done.
func (c *NATSClient) Connect(ctx context.Context) error {
	conn, err := nats.Connect(c.cfg.URL, c.connectionOptions()...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	c.conn = conn

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !conn.IsConnected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("nats connect: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	c.logger.Info("NATS connected", "url", conn.ConnectedUrl())

	return nil
}

// Subject maps a slash-separated topic onto a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Publish sends payload on the subject derived from topic. retained is ignored.
func (c *NATSClient) Publish(topic string, payload []byte, _ bool) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.Publish(Subject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}

	return nil
}

// Connected reports whether the connection is currently up.
func (c *NATSClient) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close publishes the will, flushes and closes the connection.
func (c *NATSClient) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	defer c.conn.Close()

	if c.cfg.WillTopic != "" && c.conn.IsConnected() {
		if err := c.conn.Publish(Subject(c.cfg.WillTopic), []byte(Offline)); err != nil {
			c.logger.Debug("NATS will publish failed", "error", err)
		}
	}

	var err error
	if _, ok := ctx.Deadline(); ok {
		err = c.conn.FlushWithContext(ctx)
	} else {
		err = c.conn.FlushTimeout(c.cfg.Timeout)
	}
	if err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	return nil
}
