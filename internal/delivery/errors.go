package delivery

import (
	"errors"

	"viplinks/internal/infrastructure/rcon"
)

var (
	// ErrMalformedRecord 指令为空、缺少连接参数或密文无法解密，按一次普通失败计数
	ErrMalformedRecord = errors.New("发货记录不完整")
	// ErrExpired 超过硬性过期时间，终态，不再重试；写库时由 Schedule.ExpiredMessage 补上时长
	ErrExpired = errors.New("expired")
	// ErrCycleInProgress 另一个分发周期正在运行
	ErrCycleInProgress = errors.New("分发周期正在运行")
	// ErrDispatcherClosed 服务正在关闭，不再开始新的处理
	ErrDispatcherClosed = errors.New("分发器已关闭")
)

// ErrorKind 错误分类，写入指标标签和日志
func ErrorKind(err error) string {
	var (
		connErr *rcon.ConnectionError
		authErr *rcon.AuthError
		cmdErr  *rcon.CommandError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &cmdErr):
		return "command"
	default:
		return "unknown"
	}
}
