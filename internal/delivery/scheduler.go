package delivery

import (
	"fmt"
	"time"

	"viplinks/internal/model"
)

// State 调度视角下的记录状态
type State string

const (
	StateEligible State = "eligible-now"
	StateWaiting  State = "waiting-for-backoff-window"
	StateExpired  State = "expired-awaiting-finalization"
	StateTerminal State = "terminal"
)

// BackoffTier 创建后经过的时间小于 Until 时，两次尝试之间至少间隔 Delay
//
// 最后一档 Until 为 0，表示没有上限
type BackoffTier struct {
	Until time.Duration
	Delay time.Duration
}

// DefaultBackoffTiers 0-30 分钟每 10 分钟，30-120 分钟每 20 分钟，之后每 30 分钟
var DefaultBackoffTiers = []BackoffTier{
	{Until: 30 * time.Minute, Delay: 10 * time.Minute},
	{Until: 120 * time.Minute, Delay: 20 * time.Minute},
	{Until: 0, Delay: 30 * time.Minute},
}

// Schedule 退避档位 + 硬性过期
type Schedule struct {
	Tiers  []BackoffTier
	Expiry time.Duration
}

// Backoff 根据创建后经过的时间选择最小重试间隔
func (s Schedule) Backoff(elapsed time.Duration) time.Duration {
	for _, tier := range s.Tiers {
		if tier.Until == 0 || elapsed < tier.Until {
			return tier.Delay
		}
	}
	return s.Tiers[len(s.Tiers)-1].Delay
}

// MinBackoff 所有档位中最小的间隔，用于在查询时预先过滤
func (s Schedule) MinBackoff() time.Duration {
	min := s.Tiers[0].Delay
	for _, tier := range s.Tiers[1:] {
		if tier.Delay < min {
			min = tier.Delay
		}
	}
	return min
}

// Expired now >= createdAt + expiry（包含边界）
func (s Schedule) Expired(d *model.PendingDelivery, now time.Time) bool {
	return !now.Before(d.Deadline(s.Expiry))
}

// ExpiredMessage 过期终结时写入 last_error_message 的文案，例如 "expired after 6 hours"
func (s Schedule) ExpiredMessage() string {
	return fmt.Sprintf("%s after %s", ErrExpired.Error(), humanDuration(s.Expiry))
}

func humanDuration(d time.Duration) string {
	switch {
	case d > 0 && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d > 0 && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Evaluate 判断记录在 now 时刻的调度状态
//
// 过期检查先于退避检查：过期的记录无论是否处在退避窗口内，都直接终结。
func (s Schedule) Evaluate(d *model.PendingDelivery, now time.Time) State {
	if d.IsTerminal() {
		return StateTerminal
	}
	if s.Expired(d, now) {
		return StateExpired
	}
	if d.LastAttemptAt != nil {
		if now.Sub(*d.LastAttemptAt) < s.Backoff(now.Sub(d.CreatedAt)) {
			return StateWaiting
		}
	}
	return StateEligible
}
