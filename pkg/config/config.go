package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Signer  SignerConfig  `mapstructure:"signer"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

// ChainConfig JSON-RPC 节点配置
type ChainConfig struct {
	RpcUrl     string        `mapstructure:"rpc_url"`
	RpcTimeout time.Duration `mapstructure:"rpc_timeout"` // 单次 RPC 调用超时
}

// TrackerConfig 交易确认轮询配置
type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	MaxResumes   int           `mapstructure:"max_resumes"` // TIMED_OUT 交易最多被 cron 重新追踪几次
	ResumeSpec   string        `mapstructure:"resume_spec"` // cron 表达式
}

type SignerConfig struct {
	Mode         string `mapstructure:"mode"` // none, clef, node
	ClefEndpoint string `mapstructure:"clef_endpoint"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// DSN 返回 gorm postgres 驱动使用的连接串
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// URL 返回 golang-migrate 使用的 postgres:// 连接串
func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type WalletConfig struct {
	KeystorePath string `mapstructure:"keystore_path"` // wallet-cli account new --keystore 的默认目录
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量覆盖: chain.rpc_url -> CHAIN_RPC_URL
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

	log.Printf("Configuration loaded successfully. Env: %s, RPC: %s", Global.App.Env, Global.Chain.RpcUrl)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("chain.rpc_url", "http://localhost:8545")
	viper.SetDefault("chain.rpc_timeout", "10s")

	viper.SetDefault("tracker.poll_interval", "5s")
	viper.SetDefault("tracker.max_attempts", 60)
	viper.SetDefault("tracker.max_resumes", 3)
	viper.SetDefault("tracker.resume_spec", "@every 1m")

	viper.SetDefault("signer.mode", "node")
	viper.SetDefault("signer.clef_endpoint", "http://localhost:8550")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "wallet_user")
	viper.SetDefault("db.password", "wallet_password")
	viper.SetDefault("db.name", "wallet_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("wallet.keystore_path", "./keystore")
}
