package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// memoryRetention 是内存仓库保留的最大记录数。
const memoryRetention = 512

// SnapshotRecord 是一次代币快照的落库结构。金额以十进制字符串保存，避免精度损失。
type SnapshotRecord struct {
	ID              int64  `json:"id,omitempty"`
	ContractAddress string `json:"contract_address"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	TotalSupply     string `json:"total_supply"`
	WalletAddress   string `json:"wallet_address,omitempty"`
	WalletBalance   string `json:"wallet_balance,omitempty"`
	// ObservedAt 为 Unix 毫秒时间戳。
	ObservedAt int64 `json:"observed_at"`
}

// SnapshotRepository 抽象快照历史的持久化接口。
type SnapshotRepository interface {
	Save(ctx context.Context, record SnapshotRecord) error
	// ListLatest 按观测时间倒序返回记录；contract 为空时不过滤合约。
	ListLatest(ctx context.Context, contract string, limit int) ([]SnapshotRecord, error)
	Close() error
}

// MemorySnapshotRepository 使用本地 JSON Lines 文件模拟 MySQL 的效果，方便本地运行。
type MemorySnapshotRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []SnapshotRecord
	nextID   int64
}

// NewMemorySnapshotRepository 创建内存快照仓库，并从已有文件恢复最近的记录。
func NewMemorySnapshotRepository(dataDir string) (*MemorySnapshotRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemorySnapshotRepository{dataFile: filepath.Join(dataDir, "snapshots.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录快照。
func (m *MemorySnapshotRepository) Save(_ context.Context, record SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化快照记录失败: %w", err)
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开快照日志失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入快照日志失败: %w", err)
	}

	m.records = append([]SnapshotRecord{record}, m.records...)
	if len(m.records) > memoryRetention {
		m.records = m.records[:memoryRetention]
	}
	return nil
}

// ListLatest 返回最近的快照记录。
func (m *MemorySnapshotRepository) ListLatest(_ context.Context, contract string, limit int) ([]SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SnapshotRecord, 0, len(m.records))
	for _, record := range m.records {
		if contract != "" && !strings.EqualFold(record.ContractAddress, contract) {
			continue
		}
		results = append(results, record)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 对内存仓库无操作。
func (m *MemorySnapshotRepository) Close() error { return nil }

func (m *MemorySnapshotRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取快照日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []SnapshotRecord
	for scanner.Scan() {
		var record SnapshotRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]SnapshotRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析快照日志失败: %w", err)
	}

	if len(restored) > memoryRetention {
		restored = restored[:memoryRetention]
	}
	m.records = restored
	return nil
}

// SQLSnapshotRepository 使用 MySQL 存储快照历史。
type SQLSnapshotRepository struct {
	db *sql.DB
}

// NewSQLSnapshotRepository 创建连接池并执行内置迁移。
func NewSQLSnapshotRepository(ctx context.Context, cfg Config) (*SQLSnapshotRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLSnapshotRepository{db: db}, nil
}

const insertSnapshotSQL = `INSERT INTO token_snapshots
    (contract_address, name, symbol, decimals, total_supply, wallet_address, wallet_balance, observed_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const selectSnapshotColumns = `SELECT id, contract_address, name, symbol, decimals, total_supply, wallet_address, wallet_balance, observed_at
    FROM token_snapshots`

// Save 将快照写入 MySQL。
func (s *SQLSnapshotRepository) Save(ctx context.Context, record SnapshotRecord) error {
	if _, err := s.db.ExecContext(ctx, insertSnapshotSQL,
		record.ContractAddress,
		record.Name,
		record.Symbol,
		record.Decimals,
		record.TotalSupply,
		record.WalletAddress,
		record.WalletBalance,
		record.ObservedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条快照。
func (s *SQLSnapshotRepository) ListLatest(ctx context.Context, contract string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if contract == "" {
		rows, err = s.db.QueryContext(ctx, selectSnapshotColumns+` ORDER BY observed_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectSnapshotColumns+` WHERE contract_address = ? ORDER BY observed_at DESC, id DESC LIMIT ?`, contract, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("查询快照记录失败: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var record SnapshotRecord
		if err := rows.Scan(
			&record.ID,
			&record.ContractAddress,
			&record.Name,
			&record.Symbol,
			&record.Decimals,
			&record.TotalSupply,
			&record.WalletAddress,
			&record.WalletBalance,
			&record.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("解析快照记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历快照记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLSnapshotRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ SnapshotRepository = (*MemorySnapshotRepository)(nil)
	_ SnapshotRepository = (*SQLSnapshotRepository)(nil)
)
