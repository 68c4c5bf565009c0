package cmd

import (
	"fmt"

	"payment-core/internal/event"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/service/account"
	"payment-core/internal/service/bridge"
	"payment-core/internal/service/mq"
	"payment-core/internal/service/payment"
	"payment-core/internal/service/reconciler"
	"payment-core/internal/service/syncer"
	"payment-core/internal/store"

	"payment-core/pkg/config"
	"payment-core/pkg/database"
	"payment-core/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// deps 命令行共用的服务实例，和 payment-server 连接同一份存储
type deps struct {
	rdb      *redis.Client
	producer mq.Producer
	payments *payment.Service
	bridges  *bridge.Service
	syncer   *syncer.Service
	accounts *account.Service
}

func connect() (*deps, error) {
	config.Init()
	cfg := config.Global
	logger.Init(cfg.App.Env, "payment-cli")

	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	repo := repository.New(store.NewRedisStore(rdb))

	var producer mq.Producer
	if cfg.Redis.MQType == "kafka" {
		producer = mq.NewKafkaProducer(cfg.Kafka.Brokers)
	} else {
		producer = mq.NewRedisProducer(rdb)
	}
	events := event.NewPublisher(producer)

	ledger := provider.NewSimulatedLedger(cfg.Wallet.ExplorerUrls, cfg.Wallet.Tokens)
	recon := reconciler.New(repo, ledger)
	payments := payment.NewService(repo, recon, ledger, events, cfg.Reconcile.SLA)
	return &deps{
		rdb:      rdb,
		producer: producer,
		payments: payments,
		bridges:  bridge.NewService(repo, recon, ledger, events),
		syncer:   syncer.NewService(repo, recon, ledger, payments, events, cfg.Reconcile.SLA),
		accounts: account.NewService(repo),
	}, nil
}

func (d *deps) consumer(group string) mq.Consumer {
	if config.Global.Redis.MQType == "kafka" {
		return mq.NewKafkaConsumer(config.Global.Kafka.Brokers, group)
	}
	return mq.NewRedisConsumer(d.rdb, group, "cli-0")
}

func (d *deps) close() {
	if c, ok := d.producer.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	_ = d.rdb.Close()
	logger.Sync()
}
