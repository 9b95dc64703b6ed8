package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"viplinks/internal/infrastructure/rcon"
	"viplinks/internal/model"

	"github.com/google/uuid"
)

// Transition 一次处理结束后写回队列的状态变更
type Transition struct {
	Status          string
	At              time.Time
	ErrorMessage    *string
	CountAttempt    bool
	IncrementStreak bool
}

// Store 发货队列
//
// Claim 是条件更新：只有 status=pending、attempt_count 未变、且没有有效认领时才成功。
// Finish 只在认领令牌仍然有效时生效，同时更新订单上的发货投影。
type Store interface {
	ListDispatchable(ctx context.Context, now time.Time, minBackoff, expiry time.Duration, limit int) ([]*model.PendingDelivery, error)
	GetByID(ctx context.Context, id string) (*model.PendingDelivery, error)
	Claim(ctx context.Context, d *model.PendingDelivery, token string, now time.Time, lease time.Duration) (bool, error)
	Finish(ctx context.Context, d *model.PendingDelivery, token string, t Transition) error
}

// SecretOpener 解密入队时保存的 RCON 密码
type SecretOpener interface {
	Open(sealed string) (string, error)
}

// CycleLocker 防止多个分发周期同时运行
type CycleLocker interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

// Metrics 分发指标
type Metrics interface {
	ObserveAttempt(outcome Outcome, errKind string)
	ObserveTransition(status string)
	ObserveCycle(summary *CycleSummary, elapsed time.Duration)
}

// Disposition 单条记录在本周期内的处理结果
type Disposition string

const (
	DispositionSkipped   Disposition = "skipped"
	DispositionCompleted Disposition = "completed"
	DispositionRetrying  Disposition = "retrying"
	DispositionFailed    Disposition = "failed"
	DispositionErrored   Disposition = "errored"
)

// CycleSummary 一个分发周期的统计
type CycleSummary struct {
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Retrying        int `json:"retrying"`
	Skipped         int `json:"skipped"`
	Errored         int `json:"errored"`
	TotalConsidered int `json:"total_considered"`
}

func (s *CycleSummary) add(d Disposition) {
	switch d {
	case DispositionCompleted:
		s.Completed++
	case DispositionFailed:
		s.Failed++
	case DispositionRetrying:
		s.Retrying++
	case DispositionErrored:
		s.Errored++
	default:
		s.Skipped++
	}
}

type DispatcherConfig struct {
	Schedule           Schedule
	BatchSize          int
	ClaimLease         time.Duration
	CycleTimeout       time.Duration
	InterDeliveryPause time.Duration
	ExpiryNotice       string
}

// Dispatcher 分发周期
//
// 每次调用 RunCycle 扫描一批待发货记录（最早创建的优先），逐条顺序处理后返回。
// 它本身不带定时器，由外部触发：cron 命令、HTTP 定时端点或进程内的 DispatchJob。
type Dispatcher struct {
	store     Store
	executor  *Executor
	announcer *Announcer
	dialer    rcon.Dialer
	secrets   SecretOpener
	cfg       DispatcherConfig

	publisher EventPublisher
	locker    CycleLocker
	metrics   Metrics

	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	newToken func() string

	// 进行中的周期和单条处理，Close 时等待它们写回结果
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

func WithPublisher(p EventPublisher) Option { return func(d *Dispatcher) { d.publisher = p } }
func WithCycleLocker(l CycleLocker) Option  { return func(d *Dispatcher) { d.locker = l } }
func WithMetrics(m Metrics) Option          { return func(d *Dispatcher) { d.metrics = m } }
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func NewDispatcher(store Store, executor *Executor, announcer *Announcer, dialer rcon.Dialer,
	secrets SecretOpener, cfg DispatcherConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		executor:  executor,
		announcer: announcer,
		dialer:    dialer,
		secrets:   secrets,
		cfg:       cfg,
		publisher: NopPublisher(),
		clock:     func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunCycle 执行一个完整的分发周期
func (d *Dispatcher) RunCycle(ctx context.Context) (*CycleSummary, error) {
	if !d.enter() {
		return nil, ErrDispatcherClosed
	}
	defer d.inflight.Done()

	if d.locker != nil {
		release, acquired, err := d.locker.TryAcquire(ctx)
		switch {
		case err != nil:
			// 锁服务不可用时继续执行，单条记录仍由数据库认领保护
			log.Printf("[DeliveryDispatcher] 获取周期锁失败，继续执行: %v", err)
		case !acquired:
			return nil, ErrCycleInProgress
		default:
			defer release()
		}
	}

	started := d.clock()
	cycleCtx := ctx
	if d.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, d.cfg.CycleTimeout)
		defer cancel()
	}

	deliveries, err := d.store.ListDispatchable(cycleCtx, started, d.cfg.Schedule.MinBackoff(), d.cfg.Schedule.Expiry, d.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("查询待发货记录失败: %w", err)
	}

	summary := &CycleSummary{TotalConsidered: len(deliveries)}
	if len(deliveries) == 0 {
		d.observeCycle(summary, started)
		return summary, nil
	}

	log.Printf("[DeliveryDispatcher] 本周期待处理 %d 条记录", len(deliveries))

	processedPrevious := false
	for i, item := range deliveries {
		if processedPrevious {
			// 保护共享的游戏服务器，两次处理之间固定间隔
			d.sleep(cycleCtx, d.cfg.InterDeliveryPause)
		}
		if cycleCtx.Err() != nil {
			log.Printf("[DeliveryDispatcher] 周期时间已用完，剩余 %d 条留到下个周期", len(deliveries)-i)
			summary.Skipped += len(deliveries) - i
			break
		}

		disposition, err := d.processSafely(cycleCtx, item)
		if err != nil {
			log.Printf("[DeliveryDispatcher] 处理失败: delivery=%s, err=%v", item.ID, err)
		}
		summary.add(disposition)
		processedPrevious = disposition != DispositionSkipped
	}

	log.Printf("[DeliveryDispatcher] 周期结束: 完成=%d, 失败=%d, 重试=%d, 跳过=%d, 异常=%d",
		summary.Completed, summary.Failed, summary.Retrying, summary.Skipped, summary.Errored)
	d.observeCycle(summary, started)
	return summary, nil
}

// ProcessOne 立即处理一条记录，用于支付确认后的首次发货
//
// 与周期内的处理走同一条路径：同样需要认领，同样计入 attempt_count。
func (d *Dispatcher) ProcessOne(ctx context.Context, id string) (Disposition, error) {
	if !d.enter() {
		return DispositionSkipped, ErrDispatcherClosed
	}
	defer d.inflight.Done()

	item, err := d.store.GetByID(ctx, id)
	if err != nil {
		return DispositionErrored, err
	}
	return d.processSafely(ctx, item)
}

// Close 拒绝新的周期，并等待进行中的处理结束
//
// 【关键点】认领之后的尝试不响应取消，关闭数据库前必须先调用 Close，
// 否则指令已经发到游戏服务器、结果却写不回去，租约过期后会被重复发货。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
}

func (d *Dispatcher) enter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	return true
}

// processSafely 单条记录的异常不能中断整个周期
func (d *Dispatcher) processSafely(ctx context.Context, item *model.PendingDelivery) (disposition Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			disposition = DispositionErrored
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.process(ctx, item)
}

func (d *Dispatcher) process(ctx context.Context, item *model.PendingDelivery) (Disposition, error) {
	now := d.clock()
	state := d.cfg.Schedule.Evaluate(item, now)
	if state == StateTerminal || state == StateWaiting {
		return DispositionSkipped, nil
	}

	token := d.newToken()
	claimed, err := d.store.Claim(ctx, item, token, now, d.cfg.ClaimLease)
	if err != nil {
		return DispositionErrored, fmt.Errorf("认领失败: %w", err)
	}
	if !claimed {
		log.Printf("[DeliveryDispatcher] 记录已被其他周期认领，跳过: delivery=%s", item.ID)
		return DispositionSkipped, nil
	}

	// 认领之后不再响应取消：尝试一旦开始就执行到底，结果必须落库
	runCtx := context.WithoutCancel(ctx)

	if state == StateExpired {
		return d.expire(runCtx, item, token, now)
	}
	return d.attempt(runCtx, item, token)
}

func (d *Dispatcher) attempt(ctx context.Context, item *model.PendingDelivery, token string) (Disposition, error) {
	log.Printf("[DeliveryDispatcher] 开始发货: delivery=%s, sale=%d, 第 %d 次尝试", item.ID, item.SaleID, item.AttemptCount+1)

	var result *AttemptResult
	server, err := d.openServer(item)
	if err != nil {
		now := d.clock()
		result = &AttemptResult{Outcome: OutcomeMalformed, Err: err, StartedAt: now, FinishedAt: now}
	} else {
		result = d.executor.Attempt(ctx, item, server)
	}

	finished := d.clock()
	if d.metrics != nil {
		d.metrics.ObserveAttempt(result.Outcome, ErrorKind(result.Err))
	}

	if result.Succeeded() {
		t := Transition{Status: model.PendingDeliveryStatusCompleted, At: finished, CountAttempt: true}
		if err := d.finish(ctx, item, token, t); err != nil {
			return DispositionErrored, err
		}
		log.Printf("[DeliveryDispatcher] 发货成功: delivery=%s, sale=%d", item.ID, item.SaleID)
		d.publish(ctx, EventCompleted, item, "")
		return DispositionCompleted, nil
	}

	msg := result.Diagnostic()

	// 尝试本身耗时可能让记录越过过期时间，此时直接终结
	if d.cfg.Schedule.Expired(item, finished) {
		msg = fmt.Sprintf("%s: %s", d.cfg.Schedule.ExpiredMessage(), msg)
		t := Transition{Status: model.PendingDeliveryStatusFailed, At: finished, ErrorMessage: &msg,
			CountAttempt: true, IncrementStreak: true}
		if err := d.finish(ctx, item, token, t); err != nil {
			return DispositionErrored, err
		}
		log.Printf("[DeliveryDispatcher] 发货失败且已过期: delivery=%s, err=%s", item.ID, msg)
		d.publish(ctx, EventFailed, item, msg)
		return DispositionFailed, nil
	}

	t := Transition{Status: model.PendingDeliveryStatusPending, At: finished, ErrorMessage: &msg,
		CountAttempt: true, IncrementStreak: true}
	if err := d.finish(ctx, item, token, t); err != nil {
		return DispositionErrored, err
	}
	log.Printf("[DeliveryDispatcher] 发货失败，等待重试: delivery=%s, attempts=%d, err=%s", item.ID, item.AttemptCount, msg)
	d.publish(ctx, EventRetrying, item, msg)
	return DispositionRetrying, nil
}

func (d *Dispatcher) expire(ctx context.Context, item *model.PendingDelivery, token string, now time.Time) (Disposition, error) {
	msg := d.cfg.Schedule.ExpiredMessage()
	t := Transition{Status: model.PendingDeliveryStatusFailed, At: now, ErrorMessage: &msg, CountAttempt: true}
	if err := d.finish(ctx, item, token, t); err != nil {
		return DispositionErrored, err
	}
	log.Printf("[DeliveryDispatcher] 记录已过期，需要卖家手动发货: delivery=%s, sale=%d", item.ID, item.SaleID)

	if d.cfg.ExpiryNotice != "" {
		if server, err := d.openServer(item); err == nil {
			d.announcer.Notify(ctx, d.dialer, server, Render(d.cfg.ExpiryNotice, item.TemplateVars()))
		}
	}

	d.publish(ctx, EventFailed, item, msg)
	return DispositionFailed, nil
}

// finish 落库并同步内存中的记录
func (d *Dispatcher) finish(ctx context.Context, item *model.PendingDelivery, token string, t Transition) error {
	if err := d.store.Finish(ctx, item, token, t); err != nil {
		return fmt.Errorf("写回发货结果失败: %w", err)
	}

	item.Status = t.Status
	item.LastAttemptAt = &t.At
	item.LastErrorMessage = t.ErrorMessage
	if t.CountAttempt {
		item.AttemptCount++
	}
	if t.IncrementStreak {
		item.InventoryFailureStreak++
	}
	if t.Status == model.PendingDeliveryStatusCompleted {
		item.CompletedAt = &t.At
	}

	if d.metrics != nil && t.Status != model.PendingDeliveryStatusPending {
		d.metrics.ObserveTransition(t.Status)
	}
	return nil
}

func (d *Dispatcher) openServer(item *model.PendingDelivery) (rcon.ServerConnection, error) {
	if item.ServerSecret == "" {
		return rcon.ServerConnection{}, fmt.Errorf("%w: 缺少 RCON 密码", ErrMalformedRecord)
	}
	secret, err := d.secrets.Open(item.ServerSecret)
	if err != nil {
		return rcon.ServerConnection{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rcon.ServerConnection{Host: item.ServerHost, Port: item.ServerPort, Secret: secret}, nil
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, item *model.PendingDelivery, message string) {
	event := Event{
		Type:         eventType,
		DeliveryID:   item.ID,
		SaleID:       item.SaleID,
		Status:       item.Status,
		AttemptCount: item.AttemptCount,
		Message:      message,
		OccurredAt:   d.clock(),
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		log.Printf("[DeliveryDispatcher] 发布事件失败: delivery=%s, type=%s, err=%v", item.ID, eventType, err)
	}
}

func (d *Dispatcher) observeCycle(summary *CycleSummary, started time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveCycle(summary, d.clock().Sub(started))
	}
}

// IsCycleInProgress 判断是否因为周期锁被占用而未执行
func IsCycleInProgress(err error) bool {
	return errors.Is(err, ErrCycleInProgress)
}
