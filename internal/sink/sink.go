package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CitizenChain/internal/monitor"
	"CitizenChain/pkg/logger"
)

// Sink 接收成功 tick 产生的快照。
type Sink interface {
	Name() string
	Record(ctx context.Context, snapshot monitor.TokenSnapshot) error
}

// Fanout 将快照依次投递给所有 sink，并汇总错误。
type Fanout struct {
	sinks []Sink
	log   *slog.Logger
}

// NewFanout 创建 Fanout，忽略 nil sink。
func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logger.Named("sink")
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Fanout{sinks: filtered, log: log}
}

// Len 返回已注册的 sink 数量。
func (f *Fanout) Len() int { return len(f.sinks) }

// Record 调用每个 sink；单个 sink 失败不影响其他 sink。
func (f *Fanout) Record(ctx context.Context, snapshot monitor.TokenSnapshot) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Record(ctx, snapshot); err != nil {
			f.log.Warn("sink record failed", slog.String("sink", s.Name()), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ObserveTick 让 Fanout 作为 monitor.Observer 接收成功的 tick。
func (f *Fanout) ObserveTick(ctx context.Context, res monitor.Result, _ time.Duration) {
	if !res.OK() || len(f.sinks) == 0 {
		return
	}
	_ = f.Record(ctx, *res.Snapshot)
}

// Close 关闭实现了 io.Closer 语义的 sink。
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

var _ monitor.Observer = (*Fanout)(nil)
