package gateway

import (
	"testing"

	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry(testLog())
	assert.Equal(t, 0, reg.Count())

	reg.Add(&Client{ConnID: "conn-1", Info: ClientInfo{ID: "cli-1"}})
	reg.Add(&Client{ConnID: "conn-2"})
	assert.Equal(t, 2, reg.Count())

	got, ok := reg.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "cli-1", got.Info.ID)

	reg.Remove("conn-1")
	reg.Remove("conn-1")
	_, ok = reg.Get("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Count())
}

func TestClientRegistryCloseAll(t *testing.T) {
	reg := NewClientRegistry(testLog())
	reg.Add(&Client{ConnID: "conn-1", closed: true})
	reg.Add(&Client{ConnID: "conn-2", closed: true})

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
}

func TestBroadcastNumbersEvents(t *testing.T) {
	reg := NewClientRegistry(testLog())
	closed := &Client{ConnID: "gone", closed: true}
	reg.Add(closed)

	assert.Equal(t, int64(1), reg.Broadcast(EventTick, nil))
	assert.Equal(t, int64(2), reg.Broadcast(EventTick, nil), "failed sends still consume a number")
}

func TestClosedClientRefusesSend(t *testing.T) {
	c := &Client{ConnID: "c", closed: true}
	assert.ErrorIs(t, c.Respond("r1", nil), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		bind, host string
		port       int
		want       string
	}{
		{"loopback", "", 18790, "127.0.0.1:18790"},
		{"", "", 5000, "127.0.0.1:5000"},
		{"lan", "", 9999, "0.0.0.0:9999"},
		{"custom", "", 3000, "0.0.0.0:3000"},
		{"custom", "10.0.0.1", 3000, "10.0.0.1:3000"},
		{"custom", "::1", 3000, "[::1]:3000"},
	}
	for _, tt := range tests {
		cfg := config.GatewayConfig{Bind: tt.bind, Port: tt.port, CustomBindHost: tt.host}
		assert.Equal(t, tt.want, resolveBindAddr(cfg), "bind=%q host=%q", tt.bind, tt.host)
	}
}
