package natsserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, srv)
	assert.Empty(t, srv.ClientURL())
	srv.Shutdown()
}

func TestStartAndConnect(t *testing.T) {
	cfg := config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, ConnectTimeout: 1000}
	srv, err := Start(cfg, logging.Discard())
	require.NoError(t, err)
	defer srv.Shutdown()
	require.NotEmpty(t, srv.ClientURL())

	client, err := bus.Connect(context.Background(), cfg, "test", srv.ClientURL(), logging.Discard())
	require.NoError(t, err)
	defer client.Close()
	assert.True(t, client.Healthy())
}
