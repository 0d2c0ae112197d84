package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CitizenChain/internal/config"
	"CitizenChain/internal/monitor"
	"CitizenChain/internal/observability/alerting"
	"CitizenChain/internal/observability/metrics"
	"CitizenChain/internal/sink"
	"CitizenChain/internal/storage/mysql"
	"CitizenChain/internal/storage/redis"
	"CitizenChain/internal/web3"
	"CitizenChain/internal/web3/ethereum"
	"CitizenChain/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// main 是代币监控命令的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:], os.Stderr, os.LookupEnv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	cfg, err := loadConfig(opts, os.LookupEnv)
	if err != nil {
		log.Fatalf("citizen-monitor 加载配置失败: %v", err)
	}

	code := run(ctx, cfg, ethereum.NewDialer())
	stop()
	os.Exit(code)
}

// cliOptions 保存命令行参数，set 记录用户显式给出的标志。
type cliOptions struct {
	configPath   string
	networksPath string
	network      string
	metricsAddr  string
	watch        bool
	interval     int
	set          map[string]bool
}

func parseFlags(args []string, output io.Writer, lookup func(string) (string, bool)) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("citizen-monitor", flag.ContinueOnError)
	fs.SetOutput(output)

	defaultConfig, _ := lookup(config.EnvConfigPath)
	fs.StringVar(&opts.configPath, "config", defaultConfig, "JSON 配置文件路径（默认读取 $"+config.EnvConfigPath+"）")
	fs.StringVar(&opts.networksPath, "networks", "", "YAML 网络目录路径")
	fs.StringVar(&opts.network, "network", "", "网络目录中的网络名称")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus 指标监听地址，例如 :9102")
	fs.BoolVar(&opts.watch, "watch", false, "持续监控，直到收到 SIGINT/SIGTERM")
	fs.IntVar(&opts.interval, "interval", 60, "持续监控时两次读取之间的秒数")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(output, "未知参数: %v\n", fs.Args())
		fs.Usage()
		return cliOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.interval < 1 {
		return cliOptions{}, fmt.Errorf("interval 必须至少为 1 秒: %d", opts.interval)
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig 按 文件 < 环境变量 < 命令行 的顺序合并配置，最后用网络目录补全空缺。
func loadConfig(opts cliOptions, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if opts.set["networks"] {
		cfg.Web3.NetworksFile = opts.networksPath
	}
	if opts.set["network"] {
		cfg.Web3.Network = opts.network
	}
	if opts.set["metrics-addr"] {
		cfg.Metrics.Address = opts.metricsAddr
	}
	if opts.set["watch"] {
		cfg.Monitor.Watch = opts.watch
	}
	if opts.set["interval"] {
		cfg.Monitor.IntervalSeconds = opts.interval
	}

	if _, err := cfg.ResolveNetwork(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run 执行一次读取或持续监控，返回进程退出码：单次读取成功为 0，失败（包括合约未配置）为 1。
func run(ctx context.Context, cfg *config.Config, dialer web3.Dialer) int {
	if err := logger.Init(cfg.Logging); err != nil {
		log.Printf("初始化日志失败: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("citizen-monitor")

	fanout, err := buildSinks(ctx, cfg, log)
	if err != nil {
		log.Error("初始化快照下游失败", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := fanout.Close(); err != nil {
			log.Warn("关闭快照下游失败", slog.Any("error", err))
		}
	}()

	collector := metrics.New(prometheus.NewRegistry())
	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address, collector.Handler()); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.String("addr", cfg.Metrics.Address), slog.Any("error", err))
			}
		}()
	}

	alerter := alerting.NewTickAlerter(buildDispatcher(cfg), cfg.Web3.ContractAddress, cfg.Alerting.Threshold)

	mon := monitor.New(dialer,
		monitor.WithObserver(fanout),
		monitor.WithObserver(collector),
		monitor.WithObserver(alerter),
	)
	target := monitor.Config{
		RPCEndpoint:     cfg.Web3.RPCURL,
		ContractAddress: cfg.Web3.ContractAddress,
		WalletAddress:   cfg.Web3.WalletAddress,
	}

	if !cfg.Monitor.Watch {
		if _, err := mon.CheckOnce(ctx, target); err != nil {
			return 1
		}
		return 0
	}

	log.Info("开始持续监控",
		slog.String("rpc", cfg.Web3.RPCURL),
		slog.String("contract", cfg.Web3.ContractAddress),
		slog.Duration("interval", cfg.Monitor.Interval()),
		slog.Int("sinks", fanout.Len()),
	)
	for range mon.Watch(ctx, target, cfg.Monitor.Interval()) {
		// 每个 tick 的结果已由观察者处理。
	}
	log.Info("监控已停止")
	return 0
}

func buildSinks(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sink.Fanout, error) {
	var sinks []sink.Sink
	closeAll := func() { _ = sink.NewFanout(log, sinks...).Close() }

	if cfg.Sinks.Redis.Enabled {
		client, err := redis.Open(ctx, redis.Config{
			Address:  cfg.Sinks.Redis.Address,
			Password: cfg.Sinks.Redis.Password,
			DB:       cfg.Sinks.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.NewRedisSink(client, sink.RedisConfig{
			KeyPrefix: cfg.Sinks.Redis.KeyPrefix,
			Channel:   cfg.Sinks.Redis.Channel,
			TTL:       time.Duration(cfg.Sinks.Redis.TTLSeconds) * time.Second,
		}))
	}

	if cfg.Sinks.RabbitMQ.Enabled {
		s, err := sink.DialRabbitMQ(sink.RabbitMQConfig{
			URL:      cfg.Sinks.RabbitMQ.URL,
			Exchange: cfg.Sinks.RabbitMQ.Exchange,
			Queue:    cfg.Sinks.RabbitMQ.Queue,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	switch cfg.Sinks.History.Driver {
	case "":
	case "memory":
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			closeAll()
			return nil, err
		}
		repo, err := mysql.NewMemorySnapshotRepository(cfg.Runtime.DataDir)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, sink.NewHistorySink(repo))
	case "mysql":
		repo, err := mysql.NewSQLSnapshotRepository(ctx, mysql.Config{
			DSN:          cfg.Sinks.History.DSN,
			MaxOpenConns: cfg.Sinks.History.MaxOpenConns,
			MaxIdleConns: cfg.Sinks.History.MaxIdleConns,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, sink.NewHistorySink(repo))
	default:
		closeAll()
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.Sinks.History.Driver)
	}

	if cfg.Sinks.Audit {
		sinks = append(sinks, sink.NewAuditSink(nil))
	}
	return sink.NewFanout(log.With(slog.String("scope", "sink")), sinks...), nil
}

func buildDispatcher(cfg *config.Config) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, 5*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}
