package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/radbridge/bus"
	"github.com/arloliu/radbridge/config"
	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/logger"
)

func testApp(out, errOut *bytes.Buffer) *cli.App {
	app := App()
	app.Writer = out
	app.ErrWriter = errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	return app
}

func TestConfigCommand(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "options.json")
	require.NoError(os.WriteFile(path, []byte(`{"mqtt": {"password": "secret"}, "poll_interval_s": "x"}`), 0o600))

	var out, errOut bytes.Buffer
	require.NoError(testApp(&out, &errOut).Run([]string{"radbridge", "--config", path, "config"}))

	require.NotContains(out.String(), "secret")
	require.Contains(errOut.String(), "poll_interval_s")

	var parsed map[string]any
	require.NoError(yaml.Unmarshal(out.Bytes(), &parsed))
	require.Equal(5, parsed["poll_interval_s"])
}

func TestScanCommandRequiresMAC(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(os.WriteFile(path, []byte("debug: false\n"), 0o600))

	var out, errOut bytes.Buffer
	err := testApp(&out, &errOut).Run([]string{"radbridge", "--config", path, "scan"})
	require.Error(err)

	var exitErr cli.ExitCoder
	require.ErrorAs(err, &exitErr)
	require.Equal(2, exitErr.ExitCode())
}

func TestNewBusClient(t *testing.T) {
	require := require.New(t)

	cfg, err := config.Load("")
	require.NoError(err)
	topics := bus.NewTopics("radiacode", device.USBDeviceID)

	_, ok := newBusClient(cfg, topics, device.USBDeviceID, nil).(*bus.MQTTClient)
	require.True(ok)

	cfg.Bus.Kind = config.BusNATS
	_, ok = newBusClient(cfg, topics, device.USBDeviceID, nil).(*bus.NATSClient)
	require.True(ok)
}

func TestNewAdapter(t *testing.T) {
	require := require.New(t)

	cfg, err := config.Load("")
	require.NoError(err)
	cfg.BLEConnectTimeoutS = 7

	l := logger.NewPermissiveMockLogger()
	a := newAdapter(cfg, device.NewTarget("AA:BB:CC:DD:EE:FF"), l)
	require.Equal(7*time.Second, a.ConnectTimeout())
	require.True(l.CalledWith("Info", "BLE connect bounded"))

	l = logger.NewPermissiveMockLogger()
	newAdapter(cfg, device.NewTarget(""), l)
	require.False(l.CalledWith("Info", "BLE connect bounded"))
}
