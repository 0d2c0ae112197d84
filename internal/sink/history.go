package sink

import (
	"context"

	"CitizenChain/internal/monitor"
	"CitizenChain/internal/storage/mysql"
)

// HistorySink 将快照写入历史仓库。
type HistorySink struct {
	repo mysql.SnapshotRepository
}

// NewHistorySink 创建 HistorySink。
func NewHistorySink(repo mysql.SnapshotRepository) *HistorySink {
	return &HistorySink{repo: repo}
}

// Name 实现 Sink。
func (s *HistorySink) Name() string { return "history" }

// Record 保存快照。
func (s *HistorySink) Record(ctx context.Context, snapshot monitor.TokenSnapshot) error {
	return s.repo.Save(ctx, ToRecord(snapshot))
}

// Close 关闭仓库。
func (s *HistorySink) Close() error { return s.repo.Close() }

// ToRecord 将快照转换为落库结构，金额保留完整精度。
func ToRecord(snapshot monitor.TokenSnapshot) mysql.SnapshotRecord {
	record := mysql.SnapshotRecord{
		ContractAddress: snapshot.ContractAddress,
		Name:            snapshot.Name,
		Symbol:          snapshot.Symbol,
		Decimals:        snapshot.Decimals,
		TotalSupply:     snapshot.TotalSupply.String(),
		ObservedAt:      snapshot.ObservedAt.UnixMilli(),
	}
	if snapshot.WalletBalance != nil {
		record.WalletAddress = snapshot.WalletAddress
		record.WalletBalance = snapshot.WalletBalance.String()
	}
	return record
}
