//go:build integration

package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, int) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)

	return host, mapped.Int()
}

func TestMQTTClientIntegration(t *testing.T) {
	require := require.New(t)

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(60 * time.Second),
	}, "1883")

	topics := NewTopics("radiacode", "it")

	received := make(chan mqtt.Message, 4)
	subOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID("radbridge-it-sub")
	sub := mqtt.NewClient(subOpts)
	token := sub.Connect()
	require.True(token.WaitTimeout(10 * time.Second))
	require.NoError(token.Error())
	defer sub.Disconnect(100)

	token = sub.Subscribe(topics.Base+"/#", 0, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg
	})
	require.True(token.WaitTimeout(10 * time.Second))
	require.NoError(token.Error())

	client := NewMQTTClient(MQTTConfig{
		Host:      host,
		Port:      port,
		ClientID:  "radbridge-it",
		WillTopic: topics.Availability,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(client.Connect(ctx))
	require.Eventually(client.Connected, 5*time.Second, 20*time.Millisecond)

	require.NoError(client.Publish(topics.Heartbeat, []byte(`{"ts":1}`), false))

	select {
	case msg := <-received:
		require.Equal(topics.Heartbeat, msg.Topic())
		require.Equal(`{"ts":1}`, string(msg.Payload()))
	case <-time.After(10 * time.Second):
		require.Fail("heartbeat not received")
	}

	require.NoError(client.Close(ctx))
	require.False(client.Connected())
}

func TestNATSClientIntegration(t *testing.T) {
	require := require.New(t)

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "nats:2.10",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(60 * time.Second),
	}, "4222")
	url := fmt.Sprintf("nats://%s:%d", host, port)

	topics := NewTopics("radiacode", "it")

	sub, err := nats.Connect(url)
	require.NoError(err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("radiacode.it.>", msgs)
	require.NoError(err)
	require.NoError(sub.Flush())

	client := NewNATSClient(NATSConfig{URL: url, Name: "radbridge-it", WillTopic: topics.Availability}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(client.Connect(ctx))
	require.True(client.Connected())

	require.NoError(client.Publish(topics.State, []byte(`{"cps":3}`), true))
	select {
	case msg := <-msgs:
		require.Equal("radiacode.it.state", msg.Subject)
		require.Equal(`{"cps":3}`, string(msg.Data))
	case <-time.After(10 * time.Second):
		require.Fail("state not received")
	}

	require.NoError(client.Close(ctx))
	select {
	case msg := <-msgs:
		require.Equal("radiacode.it.availability", msg.Subject)
		require.Equal(Offline, string(msg.Data))
	case <-time.After(10 * time.Second):
		require.Fail("will not received")
	}
}
