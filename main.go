// File: main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Xushengqwer/go-common/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/config"
	"github.com/Xushengqwer/user_event_consumer/internal/constants"
	"github.com/Xushengqwer/user_event_consumer/internal/failover"
	"github.com/Xushengqwer/user_event_consumer/internal/kafka"
	"github.com/Xushengqwer/user_event_consumer/internal/metrics"
	"github.com/Xushengqwer/user_event_consumer/internal/users"
	"github.com/Xushengqwer/user_event_consumer/internal/users/postgres"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "internal/config/config.development.yaml", "指定配置文件的路径")
	flag.Parse()

	var cfg config.AppConfig
	if err := core.LoadConfig(configFile, &cfg); err != nil {
		log.Fatalf("致命错误: 加载配置文件 '%s' 失败: %v", configFile, err)
	}
	if err := config.Validate(&cfg); err != nil {
		log.Fatalf("致命错误: %v", err)
	}

	// run 返回后所有 defer 已执行完毕 (生产者、连接池、日志均已关闭)
	if err := run(cfg); err != nil {
		log.Fatalf("致命错误: %v", err)
	}
}

func run(cfg config.AppConfig) error {
	zapLogger, loggerErr := core.NewZapLogger(cfg.ZapConfig)
	if loggerErr != nil {
		return fmt.Errorf("初始化 ZapLogger 失败: %w", loggerErr)
	}
	logger := zapLogger.Logger().With(zap.String("service", constants.ServiceName))
	defer func() {
		logger.Info("正在同步所有日志条目...")
		if err := zapLogger.Logger().Sync(); err != nil {
			log.Printf("警告: ZapLogger Sync 操作失败: %v\n", err)
		}
	}()
	logger.Info("Logger 初始化成功。")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 指标 ---
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	if cfg.Metrics.ListenAddr != "" {
		metricsSrv := startMetricsServer(cfg.Metrics.ListenAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	// --- Kafka 相关初始化 ---
	saramaCfg, err := kafka.GetSaramaConfig(cfg.Kafka, constants.ServiceName, logger)
	if err != nil {
		return fmt.Errorf("创建 Kafka Sarama 配置失败: %w", err)
	}
	logger.Info("Kafka Sarama 配置创建成功。")

	kafkaProd, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, saramaCfg, logger)
	if err != nil {
		return fmt.Errorf("初始化 Kafka 生产者失败: %w", err)
	}
	defer func() {
		logger.Info("正在关闭 Kafka 生产者...")
		if err := kafkaProd.Close(); err != nil {
			logger.Error("关闭 Kafka 生产者失败", zap.Error(err))
		} else {
			logger.Info("Kafka 生产者已成功关闭。")
		}
	}()
	logger.Info("Kafka 生产者初始化成功。")

	// --- 业务处理器 (用户注册) ---
	var handler kafka.RegistrationHandler
	if cfg.Database.DSN != "" {
		pool, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("连接数据库失败: %w", err)
		}
		defer pool.Close()

		repo := postgres.NewRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("初始化 users 表失败: %w", err)
		}
		handler = users.NewService(repo, logger)
		logger.Info("用户注册处理器初始化成功: PostgreSQL")
	} else {
		handler = users.NewLoggingHandler(logger)
		logger.Warn("未配置 database.dsn，用户注册事件只会被记录到日志")
	}

	// --- 故障转移 ---
	notifier := failover.NewWebhookNotifier(cfg.Failover, logger)
	if !notifier.Enabled() {
		logger.Warn("failover webhook 未启用，处理失败时只发送死信消息")
	}
	coordinator := failover.NewCoordinator(logger, kafkaProd, notifier)

	processor := kafka.NewRegistrationProcessor(logger, handler)
	gateway := kafka.NewConsumerGateway(logger, processor, coordinator, cfg.Kafka.Consumer.ProcessingTimeout())
	logger.Info("消费网关初始化成功。",
		zap.Strings("订阅主题(topics)", cfg.Kafka.Topics.Subscribe),
		zap.Duration("processing_timeout", cfg.Kafka.Consumer.ProcessingTimeout()),
		zap.Duration("webhook_timeout", cfg.Failover.WebhookTimeout()),
	)

	// --- 启动 Kafka 消费者组，阻塞直到收到信号或出现致命错误 ---
	if err := kafka.StartConsumerGroup(ctx, cfg.Kafka, saramaCfg, logger, gateway); err != nil {
		logger.Error("Kafka 消费者组因致命错误停止", zap.Error(err))
		return err
	}
	logger.Info("服务已成功关闭。")
	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("指标 HTTP 服务启动", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标 HTTP 服务异常退出", zap.Error(err))
		}
	}()
	return srv
}
