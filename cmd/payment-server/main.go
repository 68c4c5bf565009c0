package main

import (
	"context"
	"io"
	"time"

	"payment-core/internal/event"
	"payment-core/internal/handler"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/server"
	"payment-core/internal/service/account"
	"payment-core/internal/service/bridge"
	"payment-core/internal/service/idempotency"
	"payment-core/internal/service/mq"
	"payment-core/internal/service/payment"
	"payment-core/internal/service/reconciler"
	"payment-core/internal/service/syncer"
	"payment-core/internal/store"
	"payment-core/internal/worker"

	"payment-core/pkg/config"
	"payment-core/pkg/database"
	"payment-core/pkg/logger"
	"payment-core/pkg/utils/lock"
	"payment-core/pkg/validator"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env, "payment-server")
	defer logger.Sync()

	// 2. 注册请求校验 tag
	validator.Init()

	// 3. 存储: 测试环境用进程内存储，其余连接 Redis
	var (
		st     store.Store
		rdb    *redis.Client
		locker lock.DistributedLock
	)
	if cfg.App.Env == "test" {
		logger.Info("测试环境: 使用内存存储")
		st = store.NewMemoryStore()
	} else {
		var err error
		rdb, err = database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
		st = store.NewRedisStore(rdb)
		locker = lock.NewRedisLock(rdb)
	}
	repo := repository.New(st)

	// 4. 初始化消息队列
	var producer mq.Producer
	var consumer mq.Consumer
	switch {
	case rdb == nil:
		q := mq.NewMemoryQueue()
		producer, consumer = q, q
	case cfg.Redis.MQType == "kafka":
		logger.Info("使用 Kafka 作为消息队列...")
		producer = mq.NewKafkaProducer(cfg.Kafka.Brokers)
		consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	default:
		logger.Info("使用 Redis Streams 作为消息队列...")
		producer = mq.NewRedisProducer(rdb)
		consumer = mq.NewRedisConsumer(rdb, "payment_retry", "retry-0")
	}
	events := event.NewPublisher(producer)

	// 5. 外部服务商: 转账与跨链目前只有模拟实现，evm 模式下余额从链上读取
	if cfg.Bridge.Provider != "simulated" {
		logger.Fatal("不支持的跨链服务商", zap.String("provider", cfg.Bridge.Provider))
	}
	ledger := provider.NewSimulatedLedger(cfg.Wallet.ExplorerUrls, cfg.Wallet.Tokens)
	var wallet provider.WalletProvider = ledger
	switch cfg.Wallet.Provider {
	case "simulated":
	case "evm":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		callers, err := provider.DialEVM(ctx, cfg.Wallet.RpcUrls)
		cancel()
		if err != nil {
			logger.Fatal("EVM RPC 连接失败", zap.Error(err))
		}
		wallet = provider.NewEVMBalanceReader(ledger, callers, cfg.Wallet.Tokens)
	default:
		logger.Fatal("不支持的钱包服务商", zap.String("provider", cfg.Wallet.Provider))
	}

	// 6. 业务服务
	recon := reconciler.New(repo, wallet)
	payments := payment.NewService(repo, recon, wallet, events, cfg.Reconcile.SLA)
	bridges := bridge.NewService(repo, recon, ledger, events)
	sync := syncer.NewService(repo, recon, wallet, payments, events, cfg.Reconcile.SLA)
	accounts := account.NewService(repo)
	cache := idempotency.New(repo, cfg.Idempotency.TTL, cfg.Idempotency.LockTTL)

	// 7. 后台任务: 对账 sweep + 重试 worker
	sweeper := syncer.NewSweeper(sync, locker, cfg.Reconcile.SweepSpec, cfg.Reconcile.LockTTL)
	retryWorker := worker.NewServer(consumer, payments)

	// 8. HTTP Router
	r := server.NewHTTPRouter(handler.New(payments, bridges, recon, sync, accounts), cache)

	// 9. 运行 (阻塞)
	app := server.New(server.Config{HttpPort: cfg.App.HttpPort}, r, sweeper, retryWorker)
	app.Run()

	// 10. 退出后资源清理
	if c, ok := producer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("关闭消息队列失败", zap.Error(err))
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("系统已退出")
}
