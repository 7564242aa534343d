package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"BidToEarn-Agent/internal/agent"
	"BidToEarn-Agent/internal/api"
	"BidToEarn-Agent/internal/auction"
	"BidToEarn-Agent/internal/chain"
	"BidToEarn-Agent/internal/chain/provider"
	"BidToEarn-Agent/internal/config"
	"BidToEarn-Agent/internal/history"
	"BidToEarn-Agent/internal/knowledge"
	"BidToEarn-Agent/internal/llm/openai"
	"BidToEarn-Agent/internal/observability/alerting"
	"BidToEarn-Agent/internal/pinning"
	"BidToEarn-Agent/internal/session"
	"BidToEarn-Agent/internal/storage/mysql"
	"BidToEarn-Agent/internal/wallet"
	"BidToEarn-Agent/pkg/logger"
)

// main 是 biddyd 守护进程的入口。支持三种运行模式：
//
//	biddyd serve  启动 HTTP/WebSocket API 服务（默认）
//	biddyd chat   在终端里与 Biddy 交互
//	biddyd auto   自主模式，按固定间隔驱动智能体
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	if err := run(ctx, mode); err != nil {
		log.Fatalf("biddyd 运行失败: %v", err)
	}
}

func run(ctx context.Context, mode string) error {
	configPath := os.Getenv("BIDDY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "biddy.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// 凭据检查放在获取任何网络资源之前，缺失时一次性列出全部变量名。
	if err := cfg.ValidateEnvironment(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Chain)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	chainClient, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	walletProvider, err := createWallet(ctx, cfg, chainClient)
	if err != nil {
		return err
	}

	auctionProvider, err := auction.NewProvider(walletProvider)
	if err != nil {
		return err
	}
	if !auctionProvider.SupportsNetwork(walletProvider.Network()) {
		return fmt.Errorf("钱包所在网络 %s 与合约部署网络不一致", walletProvider.Network().ID)
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	historyStore, err := createHistoryStore(cfg)
	if err != nil {
		return err
	}
	defer historyStore.Close()

	transcripts, err := createTranscripts(ctx, cfg)
	if err != nil {
		return err
	}
	defer transcripts.Close()

	alerts, err := createAlerts(cfg)
	if err != nil {
		return err
	}

	pinner, err := pinning.NewClient(pinning.Config{
		JWT:     config.PinataJWT(),
		BaseURL: cfg.Pinning.BaseURL,
		Gateway: config.PinataGateway(),
		Timeout: time.Duration(cfg.Pinning.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	factory := func(ctx context.Context, sessionKey string) (session.Chatter, error) {
		return agent.New(
			llmClient,
			auctionProvider,
			agent.WithMaxIterations(cfg.LLM.OpenAI.MaxIterations),
			agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()),
			agent.WithKnowledgeProvider(knowledge.NewAuctionProvider(3)),
			agent.WithHistoryStore(historyStore),
			agent.WithTranscripts(transcripts),
			agent.WithIdentity(walletProvider.Address().Hex(), walletProvider.Network().Name),
		), nil
	}

	manager, err := session.NewManager(session.Config{
		MaxInitRetries:  cfg.Session.MaxInitRetries,
		InitBackoff:     time.Duration(cfg.Session.InitBackoffSeconds) * time.Second,
		MaxBackoff:      time.Duration(cfg.Session.MaxBackoffSeconds) * time.Second,
		InitTimeout:     time.Duration(cfg.Session.InitTimeoutSeconds) * time.Second,
		DispatchTimeout: time.Duration(cfg.Session.DispatchTimeoutSeconds) * time.Second,
		IdleEviction:    time.Duration(cfg.Session.IdleEvictionMinutes) * time.Minute,
		SweepInterval:   time.Duration(cfg.Session.SweepIntervalMinutes) * time.Minute,
		Staleness:       time.Duration(cfg.Session.StalenessHours) * time.Hour,
	}, factory, session.WithNotifier(alerts))
	if err != nil {
		return err
	}
	go manager.Run(ctx)

	logger.L().Info("biddyd 启动完成",
		"mode", mode,
		"environment", string(cfg.Environment),
		"wallet", walletProvider.Address().Hex(),
		"network", walletProvider.Network().ID,
	)

	switch mode {
	case "serve":
		server := api.NewServer(cfg.Server.Address, manager, pinner, transcripts)
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case "chat":
		return runChat(ctx, manager)
	case "auto":
		return runAuto(ctx, manager, time.Duration(cfg.Runtime.AutoIntervalSeconds)*time.Second)
	default:
		return fmt.Errorf("未知的运行模式: %s", mode)
	}
}

// runChat 提供一个最小的终端交互通道，主要用于本地调试。
func runChat(ctx context.Context, manager *session.Manager) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	fmt.Println("Biddy 已就绪，输入消息开始对话（Ctrl-D 退出）。")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		reply, err := manager.Dispatch(ctx, "terminal", input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Printf("出错了: %v\n", err)
			continue
		}
		fmt.Println(reply.Content)
	}
}

// runAuto 以固定间隔驱动智能体自主巡查拍卖状态，直到收到退出信号。
func runAuto(ctx context.Context, manager *session.Manager, interval time.Duration) error {
	const prompt = "Check my active auctions and bids, summarize anything that needs attention."

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reply, err := manager.Dispatch(ctx, "autonomous", prompt)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.L().Warn("自主巡查失败", "error", err)
		} else {
			logger.L().Info("自主巡查完成", "summary", reply.Content)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func createWallet(ctx context.Context, cfg *config.Config, client chain.Client) (wallet.Provider, error) {
	switch cfg.Wallet.Provider {
	case "local":
		store := wallet.NewStore(cfg.WalletDataFile(), cfg.Environment == config.EnvProduction)
		data, _, err := store.Load()
		if err != nil {
			return nil, err
		}
		local, err := wallet.NewLocalProvider(client, data)
		if err != nil {
			return nil, err
		}
		exported, err := local.Export(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := store.SaveIfChanged(exported); err != nil {
			return nil, err
		}
		return local, nil
	case "custody":
		store := wallet.NewStore(cfg.WalletDataFile(), cfg.Environment == config.EnvProduction)
		data, _, err := store.Load()
		if err != nil {
			return nil, err
		}
		keyName, keySecret := cfg.CustodyCredentials()
		custody, err := wallet.ConfigureCustody(ctx, client, wallet.CustodyConfig{
			BaseURL:      cfg.Wallet.Custody.BaseURL,
			APIKeyName:   keyName,
			APIKeySecret: keySecret,
			NetworkID:    client.Network().ID,
			WalletData:   data,
			Timeout:      cfg.Wallet.Custody.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		exported, err := custody.Export(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := store.SaveIfChanged(exported); err != nil {
			return nil, err
		}
		return custody, nil
	default:
		return nil, fmt.Errorf("未知的钱包 provider: %s", cfg.Wallet.Provider)
	}
}

func createLLMClient(cfg *config.Config) (*openai.Client, error) {
	if cfg.LLM.Provider != "openai" {
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
	return openai.NewClient(openai.Config{
		APIKey:  config.OpenAIKey(),
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
		Timeout: cfg.LLM.OpenAI.Timeout(),
	})
}

func createHistoryStore(cfg *config.Config) (history.Store, error) {
	switch cfg.History.Driver {
	case "memory":
		return history.NewMemoryStore(cfg.History.Depth), nil
	case "redis":
		return history.NewRedisStore(history.RedisConfig{
			Address:  cfg.History.Redis.Address,
			Password: cfg.History.Redis.Password,
			DB:       cfg.History.Redis.DB,
			Prefix:   cfg.History.Redis.Prefix,
			Depth:    cfg.History.Depth,
			TTL:      time.Duration(cfg.History.Redis.TTLMinutes) * time.Minute,
		})
	default:
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.History.Driver)
	}
}

func createTranscripts(ctx context.Context, cfg *config.Config) (mysql.TranscriptRepository, error) {
	switch cfg.Transcript.Driver {
	case "memory":
		return mysql.NewMemoryTranscriptRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLTranscriptRepository(ctx, mysql.Config{
			DSN:             cfg.Transcript.MySQL.DSN,
			MaxOpenConns:    cfg.Transcript.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Transcript.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Transcript.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Transcript.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的聊天记录驱动: %s", cfg.Transcript.Driver)
	}
}

func createAlerts(cfg *config.Config) (alerting.Dispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.AMQP.URL != "" {
		amqpNotifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:        cfg.Alerting.AMQP.URL,
			Exchange:   cfg.Alerting.AMQP.Exchange,
			RoutingKey: cfg.Alerting.AMQP.RoutingKey,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, amqpNotifier)
	}
	return alerting.NewFanout(notifiers...), nil
}
