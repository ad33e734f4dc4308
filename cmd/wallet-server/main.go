package main

import (
	"context"
	"os"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"
	"github.com/MateoOdt/DigitalMedia2/internal/handler"
	"github.com/MateoOdt/DigitalMedia2/internal/server"
	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/internal/service/history"
	"github.com/MateoOdt/DigitalMedia2/internal/service/mq"
	"github.com/MateoOdt/DigitalMedia2/internal/service/receipts"
	"github.com/MateoOdt/DigitalMedia2/internal/service/relay"
	"github.com/MateoOdt/DigitalMedia2/internal/service/resume"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/internal/signer"
	"github.com/MateoOdt/DigitalMedia2/internal/worker"
	"github.com/MateoOdt/DigitalMedia2/pkg/cache"
	"github.com/MateoOdt/DigitalMedia2/pkg/config"
	"github.com/MateoOdt/DigitalMedia2/pkg/database"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/utils/lock"
	"github.com/MateoOdt/DigitalMedia2/pkg/validator"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/MateoOdt/DigitalMedia2/docs/swagger"
)

const (
	// 已上链的回执不可变，缓存时间只受容量约束
	receiptTTL    = 24 * time.Hour
	redisMQMaxLen = 100000
)

// @title Ethereum Wallet API
// @version 1.0
// @description 账户、转账与确认跟踪 API

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()

	// 初始化 Validator
	validator.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. RPC 节点 (懒连接，首次调用时拨号)
	provider := chain.NewProvider(config.Global.Chain.RpcUrl, config.Global.Chain.RpcTimeout)
	defer provider.Close()

	// 3. 外部签名方
	external := newExternalSigner(provider)

	// 4. 核心服务
	manager := account.NewManager(provider, external)
	trackOpts := txcoord.TrackOptions{
		PollInterval: config.Global.Tracker.PollInterval,
		MaxAttempts:  config.Global.Tracker.MaxAttempts,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 交易历史 / 事件 / 后台跟踪 (PostgreSQL + Redis 均可用时启用)
	coordOpts := []txcoord.Option{txcoord.WithExternalSigner(external)}
	var txOpts []handler.TxHandlerOption
	var stop func()

	db, rdb := connectStores()
	if db != nil && rdb != nil {
		historyService := history.NewService(db)
		coordOpts = append(coordOpts, txcoord.WithRecorder(historyService))
		txOpts = append(txOpts, handler.WithHistory(historyService))

		// 5.1 回执缓存 L1: Memory, L2: Redis
		multiCache := cache.NewMultiLevelCache(
			cache.NewMemoryCache(10*time.Minute, 20*time.Minute),
			cache.NewRedisCache(rdb, "wallet:"),
		)
		receiptCache := receipts.NewCache(multiCache, receiptTTL)
		txOpts = append(txOpts, handler.WithReceiptCache(receiptCache))

		coord := txcoord.NewCoordinator(provider, coordOpts...)
		stop = startBackground(ctx, db, rdb, coord, historyService, receiptCache, trackOpts)
		runServer(manager, coord, trackOpts, txOpts)
	} else {
		logger.Warn("交易历史未启用，仅提供无状态的账户与交易接口")
		coord := txcoord.NewCoordinator(provider, coordOpts...)
		runServer(manager, coord, trackOpts, txOpts)
	}

	// 6. 退出后资源清理
	cancel()
	if stop != nil {
		stop()
	}
	if db != nil {
		logger.Info("正在关闭数据库连接...")
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("系统已退出")
}

func newExternalSigner(provider *chain.Provider) signer.External {
	switch config.Global.Signer.Mode {
	case "clef":
		clef, err := signer.DialClef(config.Global.Signer.ClefEndpoint)
		if err != nil {
			logger.Error("Clef 连接失败，外部签名不可用", zap.String("endpoint", config.Global.Signer.ClefEndpoint), zap.Error(err))
			return nil
		}
		logger.Info("使用 Clef 作为外部签名方", zap.String("endpoint", config.Global.Signer.ClefEndpoint))
		return clef
	case "node":
		logger.Info("使用节点托管账户作为外部签名方")
		return signer.NewProviderNodeSigner(provider)
	case "", "none":
		logger.Info("未配置外部签名方")
		return nil
	default:
		logger.Fatal("未知的 signer.mode", zap.String("mode", config.Global.Signer.Mode))
		return nil
	}
}

func connectStores() (*gorm.DB, *redis.Client) {
	db, err := database.ConnectPostgres(config.Global.DB.DSN(), config.Global.App.Env != "production")
	if err != nil {
		logger.Warn("数据库连接失败", zap.Error(err))
		return nil, nil
	}
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Warn("Redis 连接失败", zap.Error(err))
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		return nil, nil
	}
	return db, rdb
}

// startBackground 启动中继、确认 Worker 与恢复任务，返回的 stop 等待它们退出
func startBackground(ctx context.Context, db *gorm.DB, rdb *redis.Client, coord *txcoord.Coordinator,
	historyService *history.Service, receiptCache *receipts.Cache, trackOpts txcoord.TrackOptions) func() {

	// 初始化消息队列
	var producer mq.Producer
	var consumer mq.Consumer
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...", zap.Strings("brokers", config.Global.Kafka.Brokers))
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers)
		consumer = mq.NewKafkaConsumer(config.Global.Kafka.Brokers, "wallet_confirm_group")
	} else {
		logger.Info("使用 Redis Streams 作为消息队列...")
		producer = mq.NewRedisProducer(rdb, redisMQMaxLen)
		host, _ := os.Hostname()
		consumer = mq.NewRedisConsumer(rdb, "wallet_confirm_group", "confirm-"+host)
	}

	locker := lock.NewRedisLock(rdb)

	// 消息中继
	relayService := relay.NewService(db, producer)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relayService.Start(ctx)
	}()

	// 确认跟踪 Worker
	confirmWorker := worker.NewConfirmWorker(consumer, coord, historyService, locker, receiptCache, worker.Config{Track: trackOpts})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := confirmWorker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("确认 Worker 运行出错", zap.Error(err))
		}
	}()

	// 定时恢复超时交易
	// 超过一整轮跟踪时长仍未更新的 submitted 记录视为跟踪中断
	cronService := resume.NewCronService(historyService, locker, config.Global.Tracker.ResumeSpec, config.Global.Tracker.MaxResumes,
		resume.WithStaleAfter(trackOpts.Span()))
	if err := cronService.Start(); err != nil {
		logger.Fatal("Cron 启动失败", zap.Error(err))
	}

	return func() {
		cronService.Stop()
		<-relayDone
		<-workerDone
		_ = consumer.Close()
		if c, ok := producer.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

func runServer(manager *account.Manager, coord *txcoord.Coordinator, trackOpts txcoord.TrackOptions, txOpts []handler.TxHandlerOption) {
	r := server.NewHTTPRouter(
		handler.NewAccountHandler(manager),
		handler.NewTxHandler(coord, trackOpts, txOpts...),
	)
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)

	// 运行 (阻塞)
	app.Run()
}
