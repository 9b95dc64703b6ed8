package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"viplinks/internal/infrastructure/rcon"
	"viplinks/internal/model"
)

type fakeSession struct {
	mu       sync.Mutex
	commands []string
	fail     func(cmd string) error
	closes   int
}

func (s *fakeSession) Execute(_ context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	if s.fail != nil {
		if err := s.fail(cmd); err != nil {
			return "", err
		}
	}
	return "", nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// fakeDialer 每次 Dial 返回一个新会话
type fakeDialer struct {
	mu       sync.Mutex
	dialErr  error
	fail     func(cmd string) error
	sessions []*fakeSession
	dialed   []rcon.ServerConnection
}

func (d *fakeDialer) Dial(_ context.Context, server rcon.ServerConnection) (rcon.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, server)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	sess := &fakeSession{fail: d.fail}
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

func (d *fakeDialer) totalCloses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sessions {
		n += s.closes
	}
	return n
}

func failOn(substr string, err error) func(string) error {
	return func(cmd string) error {
		if strings.Contains(cmd, substr) {
			return err
		}
		return nil
	}
}

var errBoom = errors.New("boom")

// recordingSleep 记录所有等待，不真正休眠
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
}

func (r *recordingSleep) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.waits {
		if w == d {
			n++
		}
	}
	return n
}

// plainSecrets 测试中密码不加密
type plainSecrets struct{ err error }

func (p plainSecrets) Open(sealed string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return sealed, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func testServer() rcon.ServerConnection {
	return rcon.ServerConnection{Host: "127.0.0.1", Port: 28016, Secret: "hunter2"}
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		WarningPause:       2 * time.Second,
		PreDeliveryWait:    60 * time.Second,
		CommandPause:       time.Second,
		EscalationStreak:   3,
		StandardWarnings:   []string{"std-1 {username}", "std-2", "std-3"},
		EscalatedWarnings:  []string{"esc-1 {product}", "esc-2 10 minutes", "esc-3 contact seller"},
		ConfirmationNotice: "thanks {username}",
	}
}

func newTestExecutor(dialer *fakeDialer, sleeper *recordingSleep) *Executor {
	e := NewExecutor(dialer, NewAnnouncer([]string{"say {message}"}), testExecutorConfig())
	e.sleep = sleeper.sleep
	return e
}

func newPendingDelivery(commands ...string) *model.PendingDelivery {
	return &model.PendingDelivery{
		ID:            "d-1",
		SaleID:        42,
		ServerKey:     "vl_key_test",
		BuyerSteamID:  "76561198000000001",
		BuyerUsername: "alice",
		ProductName:   "VIP Gold",
		ServerHost:    "127.0.0.1",
		ServerPort:    28016,
		ServerSecret:  "hunter2",
		Commands:      commands,
		Status:        model.PendingDeliveryStatusPending,
	}
}
