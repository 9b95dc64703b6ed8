package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gorcon "github.com/gorcon/rcon"
)

// ServerConnection 规范化后的 RCON 连接参数，只在入队时构造一次
type ServerConnection struct {
	Host   string `validate:"required,hostname|ip"`
	Port   int    `validate:"gt=0,lt=65536"`
	Secret string `validate:"required"`
}

func (s ServerConnection) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// String 不包含密码，可以直接打日志
func (s ServerConnection) String() string {
	return s.Address()
}

// Session 一次已认证的 RCON 会话，单次发货尝试内使用，用完必须 Close
type Session interface {
	Execute(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer 建立连接并完成认证
type Dialer interface {
	Dial(ctx context.Context, server ServerConnection) (Session, error)
}

// Client 基于 Source RCON 协议（TCP）的客户端
//
// 本层不做任何重试，重试策略由分发周期负责
type Client struct {
	dialTimeout    time.Duration
	commandTimeout time.Duration
}

func NewClient(dialTimeout, commandTimeout time.Duration) *Client {
	return &Client{
		dialTimeout:    dialTimeout,
		commandTimeout: commandTimeout,
	}
}

// Dial connect + authenticate
func (c *Client) Dial(ctx context.Context, server ServerConnection) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Addr: server.Address(), Err: err}
	}

	conn, err := gorcon.Dial(server.Address(), server.Secret,
		gorcon.SetDialTimeout(c.dialTimeout),
		gorcon.SetDeadline(c.commandTimeout),
	)
	if err != nil {
		return nil, classifyDialError(server.Address(), err)
	}

	return &session{conn: conn, addr: server.Address()}, nil
}

// FindPlayer 执行 status 指令，判断玩家是否在线，并尽量解析出玩家名
func (c *Client) FindPlayer(ctx context.Context, server ServerConnection, identifier string) (bool, string, error) {
	sess, err := c.Dial(ctx, server)
	if err != nil {
		return false, "", err
	}
	defer sess.Close()

	resp, err := sess.Execute(ctx, "status")
	if err != nil {
		return false, "", err
	}

	found, name := parsePlayer(resp, identifier)
	return found, name, nil
}

func parsePlayer(statusOutput, identifier string) (bool, string) {
	for _, line := range strings.Split(statusOutput, "\n") {
		if !strings.Contains(line, identifier) {
			continue
		}
		// status 输出中玩家名通常用双引号包裹
		if start := strings.Index(line, `"`); start >= 0 {
			if end := strings.Index(line[start+1:], `"`); end > 0 {
				return true, line[start+1 : start+1+end]
			}
		}
		return true, identifier
	}
	return false, ""
}

type session struct {
	conn *gorcon.Conn
	addr string
}

func (s *session) Execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &CommandError{Command: command, Err: err}
	}
	resp, err := s.conn.Execute(command)
	if err != nil {
		return "", &CommandError{Command: command, Err: err}
	}
	return resp, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

func classifyDialError(addr string, err error) error {
	if errors.Is(err, gorcon.ErrAuthFailed) {
		return &AuthError{Addr: addr, Err: err}
	}
	return &ConnectionError{Addr: addr, Err: err}
}

// ConnectionError 无法建立连接（拒绝连接、DNS、超时）
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rcon 连接失败 %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError RCON 密码错误
type AuthError struct {
	Addr string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("rcon 认证失败 %s", e.Addr)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CommandError 认证成功后单条指令执行失败
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rcon 指令执行失败: %v", e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
