package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	gorcon "github.com/gorcon/rcon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDialError(t *testing.T) {
	authErr := classifyDialError("10.0.0.1:28016", fmt.Errorf("rcon: %w", gorcon.ErrAuthFailed))
	var ae *AuthError
	require.True(t, errors.As(authErr, &ae))
	assert.Equal(t, "10.0.0.1:28016", ae.Addr)

	connErr := classifyDialError("10.0.0.1:28016", errors.New("dial tcp: connection refused"))
	var ce *ConnectionError
	require.True(t, errors.As(connErr, &ce))
	assert.False(t, errors.As(connErr, &ae))
}

func TestClient_DialRefused(t *testing.T) {
	// 先占用一个端口再释放，保证没有进程在监听
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	client := NewClient(time.Second, time.Second)
	sess, err := client.Dial(context.Background(), ServerConnection{Host: "127.0.0.1", Port: port, Secret: "x"})

	assert.Nil(t, sess)
	var ce *ConnectionError
	assert.True(t, errors.As(err, &ce))
}

func TestClient_DialCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(time.Second, time.Second)
	_, err := client.Dial(ctx, ServerConnection{Host: "127.0.0.1", Port: 1, Secret: "x"})

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServerConnection_StringHidesSecret(t *testing.T) {
	s := ServerConnection{Host: "play.example.com", Port: 28016, Secret: "hunter2"}
	assert.Equal(t, "play.example.com:28016", s.String())
	assert.NotContains(t, fmt.Sprintf("%v", s), "hunter2")
}

func TestParsePlayer(t *testing.T) {
	status := "hostname: My Rust\nplayers : 2\n76561198000000001 \"Alice\" 35ms\n76561198000000002 \"Bob\" 40ms\n"

	found, name := parsePlayer(status, "76561198000000002")
	assert.True(t, found)
	assert.Equal(t, "Bob", name)

	found, _ = parsePlayer(status, "76561198000000009")
	assert.False(t, found)

	found, name = parsePlayer("id 123 no quotes", "123")
	assert.True(t, found)
	assert.Equal(t, "123", name)
}
