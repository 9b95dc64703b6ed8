package delivery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"viplinks/internal/infrastructure/rcon"
	"viplinks/internal/model"

	"github.com/go-playground/validator/v10"
)

type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomePartialFailure    Outcome = "partial_failure"
	OutcomeConnectionFailure Outcome = "connection_failure"
	OutcomeMalformed         Outcome = "malformed"
)

const (
	WarningSetStandard  = "standard"
	WarningSetEscalated = "escalated"
)

// CommandResult 单条指令的执行结果
type CommandResult struct {
	Command  string `json:"command"`
	Response string `json:"response"`
	Err      error  `json:"-"`
}

func (r CommandResult) OK() bool { return r.Err == nil }

// AttemptResult 一次发货尝试的结果
type AttemptResult struct {
	Outcome    Outcome
	WarningSet string
	Commands   []CommandResult
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *AttemptResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// Diagnostic 写入 last_error_message 的诊断信息
func (r *AttemptResult) Diagnostic() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type ExecutorConfig struct {
	WarningPause       time.Duration
	PreDeliveryWait    time.Duration
	CommandPause       time.Duration
	EscalationStreak   int
	StandardWarnings   []string
	EscalatedWarnings  []string
	ConfirmationNotice string
}

// Executor 执行单次发货尝试
//
// 一次尝试只使用一个会话：连接认证 -> 预警广播 -> 等待 -> 顺序执行指令 -> 确认广播 -> 关闭。
// 所有错误都转换为 AttemptResult，不向上抛出。
type Executor struct {
	dialer    rcon.Dialer
	announcer *Announcer
	cfg       ExecutorConfig
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

var validate = validator.New()

func NewExecutor(dialer rcon.Dialer, announcer *Announcer, cfg ExecutorConfig) *Executor {
	return &Executor{
		dialer:    dialer,
		announcer: announcer,
		cfg:       cfg,
		clock:     func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

func (e *Executor) Attempt(ctx context.Context, d *model.PendingDelivery, server rcon.ServerConnection) *AttemptResult {
	result := &AttemptResult{
		StartedAt:  e.clock(),
		WarningSet: e.warningSet(d),
	}
	defer func() { result.FinishedAt = e.clock() }()

	if err := validateRecord(d, server); err != nil {
		result.Outcome = OutcomeMalformed
		result.Err = err
		return result
	}

	sess, err := e.dialer.Dial(ctx, server)
	if err != nil {
		log.Printf("[DeliveryExecutor] 连接失败: delivery=%s, server=%s, err=%v", d.ID, server, err)
		result.Outcome = OutcomeConnectionFailure
		result.Err = err
		return result
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("[DeliveryExecutor] 关闭连接失败: delivery=%s, err=%v", d.ID, err)
		}
	}()

	vars := d.TemplateVars()

	// 预警：给玩家时间清理背包，失败不影响发货
	for i, msg := range e.warnings(result.WarningSet) {
		if i > 0 {
			e.sleep(ctx, e.cfg.WarningPause)
		}
		if err := e.announcer.Broadcast(ctx, sess, Render(msg, vars)); err != nil {
			log.Printf("[DeliveryExecutor] 预警广播失败: delivery=%s, err=%v", d.ID, err)
		}
	}
	e.sleep(ctx, e.cfg.PreDeliveryWait)

	for i, cmd := range RenderAll(d.Commands, vars) {
		if i > 0 {
			e.sleep(ctx, e.cfg.CommandPause)
		}

		resp, err := sess.Execute(ctx, cmd)
		result.Commands = append(result.Commands, CommandResult{Command: cmd, Response: resp, Err: err})
		if err != nil {
			// 游戏内状态和执行顺序相关，失败后不再执行后续指令
			log.Printf("[DeliveryExecutor] 指令执行失败: delivery=%s, index=%d, err=%v", d.ID, i, err)
			result.Outcome = OutcomePartialFailure
			result.Err = fmt.Errorf("第 %d/%d 条指令失败: %w", i+1, len(d.Commands), err)
			return result
		}
		log.Printf("[DeliveryExecutor] 指令执行成功: delivery=%s, index=%d", d.ID, i)
	}

	if e.cfg.ConfirmationNotice != "" {
		if err := e.announcer.Broadcast(ctx, sess, Render(e.cfg.ConfirmationNotice, vars)); err != nil {
			log.Printf("[DeliveryExecutor] 确认广播失败: delivery=%s, err=%v", d.ID, err)
		}
	}

	result.Outcome = OutcomeSuccess
	return result
}

func (e *Executor) warningSet(d *model.PendingDelivery) string {
	if d.InventoryFailureStreak >= e.cfg.EscalationStreak {
		return WarningSetEscalated
	}
	return WarningSetStandard
}

func (e *Executor) warnings(set string) []string {
	if set == WarningSetEscalated {
		return e.cfg.EscalatedWarnings
	}
	return e.cfg.StandardWarnings
}

func validateRecord(d *model.PendingDelivery, server rcon.ServerConnection) error {
	if len(d.Commands) == 0 {
		return fmt.Errorf("%w: 指令列表为空", ErrMalformedRecord)
	}
	for i, cmd := range d.Commands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("%w: 第 %d 条指令为空", ErrMalformedRecord, i+1)
		}
	}
	if err := validate.Struct(server); err != nil {
		return fmt.Errorf("%w: RCON 配置不完整", ErrMalformedRecord)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
