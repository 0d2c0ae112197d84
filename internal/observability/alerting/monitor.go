package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/monitor"
	"CitizenChain/pkg/logger"
)

// TickAlerter 将失败的监控 tick 转换为告警事件。
//
// 连续失败次数达到阈值或错误码发生变化时告警一次；告警后首次成功时发送恢复事件。
// 不需要告警的错误码（例如 NOT_CONFIGURED）不计入连续失败。
type TickAlerter struct {
	dispatcher Dispatcher
	threshold  int
	contract   string
	log        *slog.Logger

	mu       sync.Mutex
	failures int
	lastCode xerrors.Code
	alerting bool
}

// NewTickAlerter 创建 TickAlerter。threshold 小于 1 时按 1 处理。
func NewTickAlerter(dispatcher Dispatcher, contract string, threshold int) *TickAlerter {
	if threshold < 1 {
		threshold = 1
	}
	return &TickAlerter{
		dispatcher: dispatcher,
		threshold:  threshold,
		contract:   contract,
		log:        logger.Named("alerting"),
	}
}

// ObserveTick 实现 monitor.Observer。
func (a *TickAlerter) ObserveTick(ctx context.Context, res monitor.Result, _ time.Duration) {
	event, ok := a.evaluate(res)
	if !ok || a.dispatcher == nil {
		return
	}
	if err := a.dispatcher.Notify(ctx, event); err != nil {
		a.log.Warn("dispatch alert failed", slog.String("code", string(event.Code)), slog.String("error", err.Error()))
	}
}

func (a *TickAlerter) evaluate(res monitor.Result) (Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if res.OK() {
		wasAlerting, lastCode := a.alerting, a.lastCode
		a.failures, a.lastCode, a.alerting = 0, "", false
		if !wasAlerting {
			return Event{}, false
		}
		return Event{
			Code:       lastCode,
			Message:    "token poll recovered",
			Severity:   xerrors.SeverityInfo,
			Contract:   a.contract,
			Tick:       res.Tick,
			Resolved:   true,
			OccurredAt: res.ObservedAt,
		}, true
	}

	// 未编码的错误按 UNKNOWN 处理，同样需要告警。
	code := xerrors.CodeOf(res.Err)
	if code != xerrors.CodeUnknown && !xerrors.ShouldAlert(res.Err) {
		return Event{}, false
	}

	a.failures++
	changed := a.alerting && code != a.lastCode
	a.lastCode = code
	if !changed && (a.alerting || a.failures < a.threshold) {
		return Event{}, false
	}
	a.alerting = true

	event := Event{
		Code:       code,
		Message:    res.Err.Error(),
		Severity:   xerrors.SeverityOf(res.Err),
		Contract:   a.contract,
		State:      string(res.FailedIn),
		Tick:       res.Tick,
		Failures:   a.failures,
		OccurredAt: res.ObservedAt,
	}
	if e, ok := xerrors.From(res.Err); ok {
		event.Metadata = e.Metadata()
	}
	return event, true
}

var _ monitor.Observer = (*TickAlerter)(nil)
