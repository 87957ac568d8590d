package bus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/arloliu/radbridge/logger"
)

// DefaultMQTTPublishTimeout keeps a slow publish well inside one loop tick.
const DefaultMQTTPublishTimeout = 100 * time.Millisecond

// MQTTConfig configures an MQTTClient.
type MQTTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
	// WillTopic receives a retained Offline when the connection drops uncleanly.
	WillTopic string
	// KeepAlive defaults to 60 seconds.
	KeepAlive time.Duration
	// PublishTimeout bounds how long Publish waits for the message to be handed
	// to the network. Defaults to 100 milliseconds.
	PublishTimeout time.Duration
}

// MQTTClient publishes to an MQTT broker with a last will, automatic
// reconnects and QoS 0.
type MQTTClient struct {
	client         mqtt.Client
	logger         logger.Logger
	publishTimeout time.Duration
}

var _ Publisher = (*MQTTClient)(nil)

// NewMQTTClient creates an unconnected MQTTClient.
func NewMQTTClient(cfg MQTTConfig, l logger.Logger) *MQTTClient {
	if l == nil {
		l = logger.GetLogger()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultMQTTPublishTimeout
	}

	c := &MQTTClient{
		logger:         l.With("component", "mqtt"),
		publishTimeout: cfg.PublishTimeout,
	}

	broker := "tcp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOnConnectHandler(func(mqtt.Client) {
			c.logger.Info("MQTT connected", "broker", broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "broker", broker, "error", err)
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			c.logger.Debug("MQTT reconnecting", "broker", broker)
		})

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, Offline, 0, true)
	}

	c.client = mqtt.NewClient(opts)

	return c
}

// Connect waits until the first connection is established or ctx is done.
// The client keeps retrying in the background either way.
func (c *MQTTClient) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
}

// Publish sends payload with QoS 0. It fails fast with ErrNotConnected while
// the broker is unreachable instead of queueing behind the reconnect loop.
func (c *MQTTClient) Publish(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("%w: %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		go c.awaitPublish(topic, token)
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}

	return nil
}

func (c *MQTTClient) awaitPublish(topic string, token mqtt.Token) {
	<-token.Done()
	if err := token.Error(); err != nil {
		c.logger.Debug("late MQTT publish failed", "topic", topic, "error", err)
	}
}

// Connected reports whether the connection is currently up.
func (c *MQTTClient) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects cleanly, which suppresses the last will.
func (c *MQTTClient) Close(context.Context) error {
	c.client.Disconnect(250)

	return nil
}
