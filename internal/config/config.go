package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"CitizenChain/internal/web3"
	"CitizenChain/pkg/logger"
)

// 环境变量名称。
const (
	EnvConfigPath    = "CITIZEN_CONFIG"
	EnvRPCURL        = "CITIZEN_RPC_URL"
	EnvTokenAddress  = "CITIZEN_TOKEN_ADDRESS"
	EnvWalletAddress = "CITIZEN_WALLET_ADDRESS"
	EnvNetwork       = "CITIZEN_NETWORK"
	EnvLogLevel      = "CITIZEN_LOG_LEVEL"
	EnvLogFormat     = "CITIZEN_LOG_FORMAT"
	EnvMetricsAddr   = "CITIZEN_METRICS_ADDR"
)

const defaultIntervalSeconds = 60

// Config 描述了 citizen-monitor 在启动阶段需要加载的全部配置。加载完成后不再修改。
type Config struct {
	Web3     Web3Config     `json:"web3"`
	Monitor  MonitorConfig  `json:"monitor"`
	Logging  logger.Config  `json:"logging"`
	Sinks    SinksConfig    `json:"sinks"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// Web3Config 描述链节点与代币合约。ContractAddress 为空表示合约尚未部署。
type Web3Config struct {
	RPCURL          string `json:"rpc_url"`
	Network         string `json:"network"`
	NetworksFile    string `json:"networks_file"`
	ContractAddress string `json:"contract_address"`
	WalletAddress   string `json:"wallet_address"`
}

// MonitorConfig 控制轮询方式。
type MonitorConfig struct {
	Watch           bool `json:"watch"`
	IntervalSeconds int  `json:"interval_seconds"`
}

// Interval 返回轮询间隔。
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// SinksConfig 描述快照的下游投递目标，均为可选。
type SinksConfig struct {
	Redis    RedisSinkConfig    `json:"redis"`
	RabbitMQ RabbitMQSinkConfig `json:"rabbitmq"`
	History  HistoryConfig      `json:"history"`
	Audit    bool               `json:"audit"`
}

// RedisSinkConfig 描述 Redis 缓存与广播。
type RedisSinkConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	Channel    string `json:"channel"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// RabbitMQSinkConfig 描述 RabbitMQ 投递。
type RabbitMQSinkConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Queue    string `json:"queue"`
}

// HistoryConfig 描述快照历史存储。Driver 为空表示不记录，可选 memory 或 mysql。
type HistoryConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// MetricsConfig 控制 Prometheus 指标服务。Address 为空时不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AlertingConfig 控制失败 tick 的告警。
type AlertingConfig struct {
	Threshold  int    `json:"threshold"`
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Default 返回仅包含默认值的配置，相对路径基于当前目录。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = defaultIntervalSeconds
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join("logs", "audit.log")
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)

	c.Web3.NetworksFile = resolve(baseDir, c.Web3.NetworksFile)

	if c.Alerting.Threshold <= 0 {
		c.Alerting.Threshold = 1
	}

	if c.Sinks.History.Driver != "" {
		c.Sinks.History.Driver = strings.ToLower(strings.TrimSpace(c.Sinks.History.Driver))
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = "data"
	}
	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ApplyEnv 使用环境变量覆盖配置。lookup 通常为 os.LookupEnv。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvRPCURL, &c.Web3.RPCURL)
	str(EnvTokenAddress, &c.Web3.ContractAddress)
	str(EnvWalletAddress, &c.Web3.WalletAddress)
	str(EnvNetwork, &c.Web3.Network)
	str(EnvLogLevel, &c.Logging.Level)
	str(EnvLogFormat, &c.Logging.Format)
	str(EnvMetricsAddr, &c.Metrics.Address)

	if v, ok := lookup("CITIZEN_INTERVAL_SECONDS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return fmt.Errorf("CITIZEN_INTERVAL_SECONDS 取值非法: %q", v)
		}
		c.Monitor.IntervalSeconds = n
	}
	return nil
}

// ResolveNetwork 从网络目录补全未显式配置的 RPC 地址与合约地址。
// 显式配置（文件或环境变量）优先于目录，目录优先于内置默认值。
func (c *Config) ResolveNetwork() (web3.NetworkDefinition, error) {
	var def web3.NetworkDefinition
	if c.Web3.NetworksFile != "" {
		defs, err := web3.LoadNetworkDefinitions(c.Web3.NetworksFile)
		if err != nil {
			return def, err
		}
		found, ok := defs.Lookup(c.Web3.Network)
		if !ok {
			return def, fmt.Errorf("网络 %q 未在 %s 中定义，可选: %s",
				c.Web3.Network, c.Web3.NetworksFile, strings.Join(defs.Names(), ", "))
		}
		def = found
		if c.Web3.RPCURL == "" {
			c.Web3.RPCURL = def.RPCURL
		}
		if c.Web3.ContractAddress == "" {
			c.Web3.ContractAddress = def.ContractAddress
		}
	} else if c.Web3.Network != "" {
		return def, fmt.Errorf("指定了网络 %q 但未配置 networks_file", c.Web3.Network)
	}

	if c.Web3.RPCURL == "" {
		c.Web3.RPCURL = web3.DefaultRPCURL
	}
	return def, nil
}

// Validate 校验配置中相互依赖的字段。合约地址缺失不是配置错误。
func (c *Config) Validate() error {
	var errs []error
	if c.Monitor.IntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("monitor.interval_seconds 必须至少为 1，实际为 %d", c.Monitor.IntervalSeconds))
	}
	if c.Sinks.Redis.Enabled && strings.TrimSpace(c.Sinks.Redis.Address) == "" {
		errs = append(errs, errors.New("sinks.redis.address 不能为空"))
	}
	if c.Sinks.RabbitMQ.Enabled && strings.TrimSpace(c.Sinks.RabbitMQ.URL) == "" {
		errs = append(errs, errors.New("sinks.rabbitmq.url 不能为空"))
	}
	switch c.Sinks.History.Driver {
	case "", "memory":
	case "mysql":
		if strings.TrimSpace(c.Sinks.History.DSN) == "" {
			errs = append(errs, errors.New("sinks.history.dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的历史存储驱动 %q", c.Sinks.History.Driver))
	}
	if c.Web3.WalletAddress != "" && !web3.ValidAddress(c.Web3.WalletAddress) {
		errs = append(errs, fmt.Errorf("wallet_address %q 不是合法地址", c.Web3.WalletAddress))
	}
	return errors.Join(errs...)
}
