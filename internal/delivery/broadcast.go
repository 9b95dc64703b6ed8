package delivery

import (
	"context"
	"errors"
	"log"

	"viplinks/internal/infrastructure/rcon"
)

// Announcer 游戏内广播，尽力而为
//
// 不同游戏的广播指令不同（say / broadcast ...），按顺序尝试候选模板，
// 直到有一个没有报错为止。
type Announcer struct {
	templates []string
}

func NewAnnouncer(templates []string) *Announcer {
	return &Announcer{templates: templates}
}

// Broadcast 通过已有会话发送一条广播，返回最后一个错误，调用方可以忽略
func (a *Announcer) Broadcast(ctx context.Context, sess rcon.Session, message string) error {
	if len(a.templates) == 0 {
		return errors.New("未配置广播指令")
	}

	var lastErr error
	for _, tpl := range a.templates {
		cmd := Render(tpl, map[string]string{"message": message})
		if _, err := sess.Execute(ctx, cmd); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// Notify 单独建立一个会话发送广播，用于不发货时的通知（例如过期提醒）
func (a *Announcer) Notify(ctx context.Context, dialer rcon.Dialer, server rcon.ServerConnection, message string) {
	sess, err := dialer.Dial(ctx, server)
	if err != nil {
		log.Printf("[Announcer] 通知发送失败（连接）: server=%s, err=%v", server, err)
		return
	}
	defer sess.Close()

	if err := a.Broadcast(ctx, sess, message); err != nil {
		log.Printf("[Announcer] 通知发送失败: server=%s, err=%v", server, err)
	}
}
