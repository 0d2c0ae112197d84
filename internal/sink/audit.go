package sink

import (
	"context"
	"log/slog"

	"CitizenChain/internal/monitor"
	"CitizenChain/pkg/logger"
)

// AuditSink 将快照写入审计日志。
type AuditSink struct {
	log *slog.Logger
}

// NewAuditSink 创建 AuditSink，log 为空时使用全局审计日志。
func NewAuditSink(log *slog.Logger) *AuditSink {
	return &AuditSink{log: log}
}

// Name 实现 Sink。
func (s *AuditSink) Name() string { return "audit" }

// Record 记录一条审计日志。
func (s *AuditSink) Record(ctx context.Context, snapshot monitor.TokenSnapshot) error {
	log := s.log
	if log == nil {
		log = logger.Audit()
	}
	attrs := []any{
		slog.String("contract", snapshot.ContractAddress),
		slog.String("symbol", snapshot.Symbol),
		slog.Int("decimals", int(snapshot.Decimals)),
		slog.String("total_supply", snapshot.TotalSupply.String()),
		slog.Time("observed_at", snapshot.ObservedAt),
	}
	if snapshot.WalletBalance != nil {
		attrs = append(attrs,
			slog.String("wallet", snapshot.WalletAddress),
			slog.String("wallet_balance", snapshot.WalletBalance.String()),
		)
	}
	log.InfoContext(ctx, "token_snapshot", attrs...)
	return nil
}
