package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"viplinks/internal/infrastructure/rcon"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Attempt_Success(t *testing.T) {
	dialer := &fakeDialer{}
	sleeper := &recordingSleep{}
	e := newTestExecutor(dialer, sleeper)

	d := newPendingDelivery("oxide.grant user {steamid} vip", "inventory.giveto {username} rifle.ak 1")
	result := e.Attempt(context.Background(), d, testServer())

	require.True(t, result.Succeeded(), result.Diagnostic())
	assert.Equal(t, WarningSetStandard, result.WarningSet)
	require.Len(t, dialer.sessions, 1)

	executed := dialer.sessions[0].executed()
	assert.Equal(t, []string{
		"say std-1 alice",
		"say std-2",
		"say std-3",
		"oxide.grant user 76561198000000001 vip",
		"inventory.giveto alice rifle.ak 1",
		"say thanks alice",
	}, executed)

	assert.Equal(t, 1, dialer.totalCloses())
	assert.Equal(t, 2, sleeper.count(2*time.Second))
	assert.Equal(t, 1, sleeper.count(60*time.Second))
	assert.Equal(t, 1, sleeper.count(time.Second))
	require.Len(t, result.Commands, 2)
	assert.True(t, result.Commands[1].OK())
}

func TestExecutor_Attempt_EscalatedWarnings(t *testing.T) {
	dialer := &fakeDialer{}
	e := newTestExecutor(dialer, &recordingSleep{})

	d := newPendingDelivery("give {steamid}")
	d.InventoryFailureStreak = 3

	result := e.Attempt(context.Background(), d, testServer())
	require.True(t, result.Succeeded())
	assert.Equal(t, WarningSetEscalated, result.WarningSet)

	executed := dialer.sessions[0].executed()
	assert.Contains(t, executed, "say esc-1 VIP Gold")
	assert.Contains(t, executed, "say esc-2 10 minutes")
	assert.Contains(t, executed, "say esc-3 contact seller")
	assert.NotContains(t, executed, "say std-2")
}

func TestExecutor_Attempt_StopsAtFirstFailingCommand(t *testing.T) {
	dialer := &fakeDialer{fail: failOn("second", &rcon.CommandError{Command: "second", Err: errBoom})}
	e := newTestExecutor(dialer, &recordingSleep{})

	d := newPendingDelivery("first", "second", "third")
	result := e.Attempt(context.Background(), d, testServer())

	assert.Equal(t, OutcomePartialFailure, result.Outcome)
	assert.Contains(t, result.Diagnostic(), "2/3")
	assert.Equal(t, "command", ErrorKind(result.Err))

	executed := dialer.sessions[0].executed()
	assert.Contains(t, executed, "first")
	assert.Contains(t, executed, "second")
	assert.NotContains(t, executed, "third")
	assert.NotContains(t, executed, "say thanks alice")
	assert.Equal(t, 1, dialer.totalCloses())
}

func TestExecutor_Attempt_ConnectionFailure(t *testing.T) {
	dialer := &fakeDialer{dialErr: &rcon.ConnectionError{Addr: "127.0.0.1:28016", Err: errBoom}}
	sleeper := &recordingSleep{}
	e := newTestExecutor(dialer, sleeper)

	result := e.Attempt(context.Background(), newPendingDelivery("give"), testServer())

	assert.Equal(t, OutcomeConnectionFailure, result.Outcome)
	assert.Equal(t, "connection", ErrorKind(result.Err))
	assert.Empty(t, dialer.sessions)
	assert.Equal(t, 0, dialer.totalCloses())
	assert.Empty(t, sleeper.waits)
}

func TestExecutor_Attempt_AuthFailure(t *testing.T) {
	dialer := &fakeDialer{dialErr: &rcon.AuthError{Addr: "127.0.0.1:28016", Err: errBoom}}
	e := newTestExecutor(dialer, &recordingSleep{})

	result := e.Attempt(context.Background(), newPendingDelivery("give"), testServer())

	assert.Equal(t, OutcomeConnectionFailure, result.Outcome)
	assert.Equal(t, "auth", ErrorKind(result.Err))
}

func TestExecutor_Attempt_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		commands []string
		server   rcon.ServerConnection
	}{
		{name: "no commands", commands: nil, server: testServer()},
		{name: "blank command", commands: []string{"give", "  "}, server: testServer()},
		{name: "missing host", commands: []string{"give"}, server: rcon.ServerConnection{Port: 28016, Secret: "x"}},
		{name: "bad port", commands: []string{"give"}, server: rcon.ServerConnection{Host: "127.0.0.1", Port: 0, Secret: "x"}},
		{name: "missing secret", commands: []string{"give"}, server: rcon.ServerConnection{Host: "127.0.0.1", Port: 28016}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{}
			e := newTestExecutor(dialer, &recordingSleep{})

			result := e.Attempt(context.Background(), newPendingDelivery(tt.commands...), tt.server)

			assert.Equal(t, OutcomeMalformed, result.Outcome)
			assert.True(t, errors.Is(result.Err, ErrMalformedRecord))
			assert.Empty(t, dialer.dialed)
		})
	}
}

func TestExecutor_Attempt_WarningFailureDoesNotBlockDelivery(t *testing.T) {
	dialer := &fakeDialer{fail: failOn("say", errBoom)}
	e := newTestExecutor(dialer, &recordingSleep{})

	result := e.Attempt(context.Background(), newPendingDelivery("give {steamid}"), testServer())

	require.True(t, result.Succeeded())
	assert.Contains(t, dialer.sessions[0].executed(), "give 76561198000000001")
	assert.Equal(t, 1, dialer.totalCloses())
}

func TestAnnouncer_BroadcastFallsBackToNextTemplate(t *testing.T) {
	sess := &fakeSession{fail: failOn("say", errBoom)}
	a := NewAnnouncer([]string{"say {message}", "broadcast {message}"})

	err := a.Broadcast(context.Background(), sess, "hello")

	assert.NoError(t, err)
	assert.Equal(t, []string{"say hello", "broadcast hello"}, sess.executed())
}

func TestAnnouncer_NotifyClosesSession(t *testing.T) {
	dialer := &fakeDialer{}
	a := NewAnnouncer([]string{"say {message}"})

	a.Notify(context.Background(), dialer, testServer(), "expired")

	require.Len(t, dialer.sessions, 1)
	assert.Equal(t, []string{"say expired"}, dialer.sessions[0].executed())
	assert.Equal(t, 1, dialer.totalCloses())
}
