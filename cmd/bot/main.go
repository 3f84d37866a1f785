package main

import (
	"bot-orchestrator/internal/bus"
	"bot-orchestrator/internal/config"
	"bot-orchestrator/internal/exchange"
	"bot-orchestrator/internal/feed"
	"bot-orchestrator/internal/logger"
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/orchestrator"
	"bot-orchestrator/internal/persistence"
	"bot-orchestrator/internal/reporter"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.yaml", "path to the config file (json or yaml)")
	mode := flag.String("mode", "sim", "running mode: live, sim or dry")
	replaySymbol := flag.String("replay", "", "sim mode: replay historical 1m klines for this bot symbol (e.g., SOL)")
	startDate := flag.String("start", "", "replay start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "replay end date (YYYY-MM-DD)")
	flag.Parse()

	// 先用默认配置初始化日志, 以便记录加载配置过程中的问题
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executors, err := buildExecutors(ctx, *mode, cfg)
	if err != nil {
		logger.S().Fatal(err)
	}

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开数据库: %v", err)
	}

	memBus := bus.NewMemoryBus(bus.DefaultQueueSize, logger.L().Named("bus"))
	svc := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Bus:       memBus,
		Repo:      repo,
		Executors: executors,
		Logger:    logger.L().Named("orchestrator"),
	})
	if err := svc.Start(ctx); err != nil {
		logger.S().Fatalf("编排服务启动失败: %v", err)
	}

	if relay := feed.NewRelay(cfg.Feed, memBus, logger.L().Named("feed")); relay != nil {
		go relay.Run(ctx)
	}
	if *replaySymbol != "" {
		if *mode != "sim" {
			logger.S().Fatal("历史回放只能在 sim 模式下运行")
		}
		go runReplay(ctx, cfg, memBus, *replaySymbol, *startDate, *endDate)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	if err := svc.Stop(); err != nil {
		logger.S().Warnf("关闭编排服务时出错: %v", err)
	}
	fmt.Println(reporter.RenderBots(svc.Bots()))
	logger.S().Info("编排服务已停止。")
}

// buildExecutors 根据运行模式创建执行器注册表
func buildExecutors(ctx context.Context, mode string, cfg *models.Config) (*exchange.Registry, error) {
	switch mode {
	case "live":
		logger.S().Info("--- 启动实盘模式 ---")
		if cfg.Binance.IsTestnet {
			logger.S().Info("正在使用币安测试网...")
		}
		// 从环境变量加载API密钥
		live, err := exchange.NewBinanceExecutor(ctx, os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"),
			cfg.Binance, logger.L().Named("binance"))
		if err != nil {
			return nil, fmt.Errorf("初始化交易所失败: %w", err)
		}
		registry := exchange.NewRegistry(exchange.Disabled{})
		registry.Register(cfg.Binance.Venue, live)
		cfg.ExecutionEnabled = true
		return registry, nil
	case "sim":
		logger.S().Info("--- 启动模拟模式 ---")
		sim := exchange.NewSimulator(cfg.DefaultVenue)
		registry := exchange.NewRegistry(sim)
		registry.Register(cfg.DefaultVenue, sim)
		cfg.ExecutionEnabled = true
		cfg.SimulateFills = true
		return registry, nil
	case "dry":
		logger.S().Info("--- 启动只读模式, 不执行任何订单 ---")
		cfg.ExecutionEnabled = false
		return exchange.NewRegistry(exchange.Disabled{}), nil
	default:
		return nil, fmt.Errorf("未知的运行模式: %s。请选择 'live'、'sim' 或 'dry'。", mode)
	}
}

// runReplay 下载并回放历史K线
func runReplay(ctx context.Context, cfg *models.Config, b bus.Bus, symbol, startDate, endDate string) {
	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		logger.L().Error("日期格式错误，请使用 YYYY-MM-DD 格式", zap.NamedError("start", err1), zap.NamedError("end", err2))
		return
	}

	replayer := feed.NewReplayer(feed.NewBinanceKlines(), b, logger.L().Named("replay"))
	replayer.Pace = 10 * time.Millisecond
	suffix := cfg.Binance.SymbolSuffix
	if suffix == "" {
		suffix = "USDT"
	}
	n, err := replayer.Replay(ctx, symbol, exchange.VenueSymbol(symbol, suffix), startTime, endTime)
	if err != nil {
		logger.L().Error("历史回放失败", zap.String("symbol", symbol), zap.Int("published", n), zap.Error(err))
	}
}
