package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"AutoAgent/internal/agent"
	"AutoAgent/internal/api"
	"AutoAgent/internal/config"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/gateway/openai"
	"AutoAgent/internal/gateway/process"
	"AutoAgent/internal/message"
	"AutoAgent/internal/observability/alerting"
	"AutoAgent/internal/observability/metrics"
	"AutoAgent/internal/run"
	"AutoAgent/internal/storage/file"
	"AutoAgent/internal/storage/mysql"
	"AutoAgent/pkg/logger"
)

// main 是 AutoAgent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx); err != nil {
		log.Fatalf("autoagentd 运行失败: %v", err)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	gw, err := createGateway(cfg)
	if err != nil {
		return err
	}

	saver, closeSaver, err := createSaver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSaver()

	mirrors, closeMirrors, err := createMirrors(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMirrors()

	var collector *metrics.Collector
	if cfg.Metrics.On() {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	notifiers := []alerting.Notifier{alerting.AuditNotifier{}}
	if cfg.Alerting.Webhook.URL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.Webhook.URL})
	}

	opts := []run.Option{
		run.WithDefaults(run.Defaults{
			MaxLoops:      cfg.Agent.MaxLoops,
			TaskSelection: cfg.Agent.TaskSelection,
			Analysis:      cfg.Agent.AnalysisEnabled(),
			FollowUps:     cfg.Agent.FollowUpsEnabled(),
			Summary:       cfg.Agent.Summary,
			Settings: agent.ModelSettings{
				Model:       cfg.Agent.Model.Name,
				Temperature: cfg.Agent.Model.Temperature,
				MaxTokens:   cfg.Agent.Model.MaxTokens,
				Language:    cfg.Agent.Model.Language,
			},
		}),
		run.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		run.WithMirrors(mirrors...),
	}
	if saver != nil {
		opts = append(opts, run.WithMessageSaver(saver))
	}
	if collector != nil {
		opts = append(opts, run.WithMetrics(collector))
	}
	svc, err := run.NewService(gw, opts...)
	if err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithShutdownTimeout(cfg.Server.ShutdownTimeout)}
	if collector != nil {
		apiOpts = append(apiOpts, api.WithMetrics(collector))
	}
	server := api.NewServer(cfg.Server.Address, svc, apiOpts...)

	logger.Audit().Info("守护进程启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("gateway", cfg.Gateway.Provider),
		slog.String("persistence", cfg.Persistence.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if collector != nil && cfg.Metrics.Address != "" {
		g.Go(func() error {
			return collector.StartServer(gctx, cfg.Metrics.Address)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.L().Warn("等待运行退出超时", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()
	logger.Audit().Info("守护进程退出")
	return err
}

func createGateway(cfg *config.Config) (gateway.Gateway, error) {
	var gw gateway.Gateway
	switch cfg.Gateway.Provider {
	case config.ProviderEcho:
		gw = gateway.NewEcho()
	case config.ProviderOpenAI:
		apiKey := cfg.Gateway.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI 网关需要配置 api_key 或 api_key_env")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Gateway.OpenAI.BaseURL,
			Model:   cfg.Gateway.OpenAI.Model,
			Timeout: cfg.Gateway.OpenAI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		gw = client
	case config.ProviderProcess:
		pc := cfg.Gateway.Process
		command := pc.Command
		if strings.ContainsRune(command, os.PathSeparator) {
			command = process.ResolvePath(pc.WorkingDir, command)
		}
		client, err := process.NewClient(command, pc.Args, pc.WorkingDir)
		if err != nil {
			return nil, err
		}
		gw = client
	default:
		return nil, fmt.Errorf("未知的网关 provider: %s", cfg.Gateway.Provider)
	}
	return gateway.WithTimeout(gw, cfg.Gateway.Timeout), nil
}

func createSaver(ctx context.Context, cfg *config.Config) (agent.MessageSaver, func(), error) {
	noop := func() {}
	switch cfg.Persistence.Driver {
	case config.PersistenceNone:
		return nil, noop, nil
	case config.PersistenceFile:
		repo, err := file.NewMessageLog(cfg.Runtime.DataDir)
		if err != nil {
			return nil, noop, err
		}
		return repo, noop, nil
	case config.PersistenceMySQL:
		repo, err := mysql.NewMessageRepository(ctx, cfg.Persistence.MySQL)
		if err != nil {
			return nil, noop, err
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logger.L().Warn("关闭 MySQL 失败", slog.Any("error", err))
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("未知的持久化驱动: %s", cfg.Persistence.Driver)
	}
}

func createMirrors(ctx context.Context, cfg *config.Config) ([]run.MirrorFactory, func(), error) {
	var (
		factories []run.MirrorFactory
		closers   []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.L().Warn("关闭消息镜像失败", slog.Any("error", err))
			}
		}
	}

	if rc := cfg.Feed.Redis; rc.Enabled {
		redisCfg := message.RedisConfig{
			Address:  rc.Address,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
			TTL:      rc.TTL,
		}
		client, err := message.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, client.Close)
		factories = append(factories, func(runID string) message.Sink {
			return message.NewRedisSink(client, runID, redisCfg)
		})
	}

	if mq := cfg.Feed.RabbitMQ; mq.Enabled {
		publisher, err := message.NewRabbitMQPublisher(message.RabbitMQConfig{
			URL:      mq.URL,
			Exchange: mq.Exchange,
			Durable:  mq.Durable,
		})
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, publisher.Close)
		factories = append(factories, publisher.ForRun)
	}
	return factories, closeAll, nil
}
