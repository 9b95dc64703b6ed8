package main

import (
	"fmt"
	"log"

	"viplinks/internal/config"
	"viplinks/internal/delivery"
	"viplinks/internal/infrastructure/cache"
	"viplinks/internal/infrastructure/crypto"
	"viplinks/internal/infrastructure/database"
	"viplinks/internal/infrastructure/lock"
	"viplinks/internal/infrastructure/mq"
	"viplinks/internal/infrastructure/rcon"
	"viplinks/internal/metrics"
	"viplinks/internal/repository"
	"viplinks/internal/service"
	"viplinks/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// app 进程内共享的依赖，serve / dispatch / cleanup 命令共用
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	redis      *redis.Client
	producer   *mq.Producer
	sealer     *crypto.Sealer
	rcon       *rcon.Client
	registry   *prometheus.Registry
	publisher  delivery.EventPublisher
	dispatcher *delivery.Dispatcher
}

func newApp(cfg *config.Config) (*app, error) {
	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		return nil, err
	}

	if cfg.Crypto.SecretKey == "" {
		return nil, fmt.Errorf("未配置 crypto.secret_key")
	}
	sealer, err := crypto.NewSealer(cfg.Crypto.SecretKey)
	if err != nil {
		return nil, err
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		sealer:   sealer,
		rcon:     rcon.NewClient(cfg.Delivery.DialTimeout, cfg.Delivery.CommandTimeout),
		registry: prometheus.NewRegistry(),
	}

	// 初始化 Redis（可选）
	a.redis, err = cache.InitRedis(&cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}

	// 初始化 Kafka（可选）：未配置时不写消息表，避免堆积
	a.publisher = delivery.NopPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		a.producer, err = mq.NewProducer(&cfg.Kafka)
		if err != nil {
			a.close()
			return nil, err
		}
		a.publisher = service.NewOutboxPublisher(db, cfg.Kafka.Topic.DeliveryEvents)
	} else {
		log.Println("未配置 Kafka，发货事件不会投递")
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deliveryMetrics := metrics.NewDeliveryMetrics()
	if err := deliveryMetrics.Register(a.registry); err != nil {
		a.close()
		return nil, err
	}

	a.dispatcher = a.newDispatcher(deliveryMetrics)
	return a, nil
}

func (a *app) newDispatcher(m delivery.Metrics) *delivery.Dispatcher {
	dc := a.cfg.Delivery

	tiers := make([]delivery.BackoffTier, 0, len(dc.BackoffTiers))
	for _, t := range dc.BackoffTiers {
		tiers = append(tiers, delivery.BackoffTier{Until: t.Until, Delay: t.Delay})
	}

	announcer := delivery.NewAnnouncer(dc.BroadcastTemplates)
	executor := delivery.NewExecutor(a.rcon, announcer, delivery.ExecutorConfig{
		WarningPause:       dc.WarningPause,
		PreDeliveryWait:    dc.PreDeliveryWait,
		CommandPause:       dc.CommandPause,
		EscalationStreak:   dc.EscalationStreak,
		StandardWarnings:   dc.StandardWarnings,
		EscalatedWarnings:  dc.EscalatedWarnings,
		ConfirmationNotice: dc.ConfirmationNotice,
	})

	opts := []delivery.Option{
		delivery.WithPublisher(a.publisher),
		delivery.WithMetrics(m),
	}
	if a.redis != nil {
		// 锁的过期时间覆盖周期预算加上最后一条记录的执行时间
		opts = append(opts, delivery.WithCycleLocker(lock.NewCycleLock(a.redis, dc.CycleTimeout+dc.ClaimLease, uuid.NewString)))
	}

	return delivery.NewDispatcher(
		repository.NewDeliveryRepository(a.db),
		executor,
		announcer,
		a.rcon,
		a.sealer,
		delivery.DispatcherConfig{
			Schedule:           delivery.Schedule{Tiers: tiers, Expiry: dc.Expiry},
			BatchSize:          dc.BatchSize,
			ClaimLease:         dc.ClaimLease,
			CycleTimeout:       dc.CycleTimeout,
			InterDeliveryPause: dc.InterDeliveryPause,
			ExpiryNotice:       dc.ExpiryNotice,
		},
		opts...,
	)
}

func (a *app) close() {
	// 先等进行中的发货写回结果，再关闭 Redis（周期锁）和数据库
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	a.producer.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("关闭 Redis 失败: %v", err)
		}
	}
	if a.db != nil {
		database.Close(a.db)
	}
}
