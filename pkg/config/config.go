package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Bridge      BridgeConfig      `mapstructure:"bridge"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"` // retry worker 的消费组
}

type IdempotencyConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`      // 记录有效期，固定 24h
	LockTTL time.Duration `mapstructure:"lock_ttl"` // 进行中标记的过期时间，防止进程崩溃后 key 永久不可用
}

type ReconcileConfig struct {
	SLA       time.Duration `mapstructure:"sla"`        // 两阶段写入之后最长多久必须完成对账
	SweepSpec string        `mapstructure:"sweep_spec"` // cron 表达式
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type WalletConfig struct {
	Provider     string                       `mapstructure:"provider"` // "simulated" 或 "evm" (链上读余额，其余走模拟)
	RpcUrls      map[string]string            `mapstructure:"rpc_urls"` // blockchain -> RPC 地址
	Tokens       map[string]map[string]string `mapstructure:"tokens"`   // blockchain -> currency -> token 合约地址
	ExplorerUrls map[string]string            `mapstructure:"explorer_urls"`
}

type BridgeConfig struct {
	Provider string `mapstructure:"provider"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(".")      // optionally look for config in the working directory
	viper.AddConfigPath("./config")

	// 环境变量设置: REDIS_ADDR 覆盖 redis.addr
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "payment_retry_worker")

	viper.SetDefault("idempotency.ttl", 24*time.Hour)
	viper.SetDefault("idempotency.lock_ttl", 30*time.Second)

	viper.SetDefault("reconcile.sla", 5*time.Minute)
	viper.SetDefault("reconcile.sweep_spec", "@every 1m")
	viper.SetDefault("reconcile.lock_ttl", 50*time.Second)

	viper.SetDefault("wallet.provider", "simulated")
	viper.SetDefault("wallet.explorer_urls", map[string]string{
		"arc":      "https://testnet.arcscan.app/tx/",
		"ethereum": "https://etherscan.io/tx/",
		"base":     "https://basescan.org/tx/",
	})
	viper.SetDefault("bridge.provider", "simulated")
}
