package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crypto   CryptoConfig   `mapstructure:"crypto"`
	Business BusinessConfig `mapstructure:"business"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lt=65536"`
	// 公开接口（webhook / 插件）的每 IP 限流
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=mysql postgres"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig Host 为空时不启用 Redis（分发周期锁退化为仅依赖数据库认领）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	DeliveryEvents string `mapstructure:"delivery_events"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	CronSecret string `mapstructure:"cron_secret"`
}

type CryptoConfig struct {
	// 32 字节密钥的 hex 编码，用于加密 RCON 密码
	SecretKey string `mapstructure:"secret_key" validate:"omitempty,hexadecimal,len=64"`
}

type BusinessConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count" validate:"gt=0"`
}

// DeliveryConfig 游戏内发货相关配置
type DeliveryConfig struct {
	BatchSize         int           `mapstructure:"batch_size" validate:"gt=0"`
	Expiry            time.Duration `mapstructure:"expiry" validate:"gt=0"`
	ClaimLease        time.Duration `mapstructure:"claim_lease" validate:"gt=0"`
	CycleTimeout      time.Duration `mapstructure:"cycle_timeout"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	Retention         time.Duration `mapstructure:"retention"`
	ImmediateAttempt  bool          `mapstructure:"immediate_attempt"`

	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	WarningPause       time.Duration `mapstructure:"warning_pause"`
	PreDeliveryWait    time.Duration `mapstructure:"pre_delivery_wait"`
	CommandPause       time.Duration `mapstructure:"command_pause"`
	InterDeliveryPause time.Duration `mapstructure:"inter_delivery_pause"`

	EscalationStreak int `mapstructure:"escalation_streak" validate:"gt=0"`

	BackoffTiers       []BackoffTierConfig `mapstructure:"backoff_tiers" validate:"min=1,dive"`
	BroadcastTemplates []string            `mapstructure:"broadcast_templates" validate:"min=1"`
	StandardWarnings   []string            `mapstructure:"standard_warnings"`
	EscalatedWarnings  []string            `mapstructure:"escalated_warnings"`
	ConfirmationNotice string              `mapstructure:"confirmation_notice"`
	ExpiryNotice       string              `mapstructure:"expiry_notice"`
}

// BackoffTierConfig 创建后经过 Until 之前，两次尝试之间至少间隔 Delay；Until 为 0 表示无上限
type BackoffTierConfig struct {
	Until time.Duration `mapstructure:"until"`
	Delay time.Duration `mapstructure:"delay" validate:"gt=0"`
}

var validate = validator.New()

// LoadConfig 加载配置文件
//
// 优先级：环境变量（VIPLINKS_ 前缀） > 配置文件 > 默认值
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix("VIPLINKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	if err := validateBackoffTiers(cfg.Delivery.BackoffTiers); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	return cfg, nil
}

// Default 返回只包含默认值的配置，测试和工具命令使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_second", 5)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("kafka.topic.delivery_events", "viplinks.delivery.events")
	v.SetDefault("business.max_retry_count", 5)

	v.SetDefault("delivery.batch_size", 50)
	v.SetDefault("delivery.expiry", 6*time.Hour)
	v.SetDefault("delivery.claim_lease", 10*time.Minute)
	v.SetDefault("delivery.cycle_timeout", 15*time.Minute)
	v.SetDefault("delivery.scheduler_interval", time.Duration(0))
	v.SetDefault("delivery.retention", 7*24*time.Hour)
	v.SetDefault("delivery.immediate_attempt", true)

	v.SetDefault("delivery.dial_timeout", 5*time.Second)
	v.SetDefault("delivery.command_timeout", 5*time.Second)

	v.SetDefault("delivery.warning_pause", 2*time.Second)
	v.SetDefault("delivery.pre_delivery_wait", 60*time.Second)
	v.SetDefault("delivery.command_pause", time.Second)
	v.SetDefault("delivery.inter_delivery_pause", 2*time.Second)
	v.SetDefault("delivery.escalation_streak", 3)

	v.SetDefault("delivery.backoff_tiers", []map[string]interface{}{
		{"until": 30 * time.Minute, "delay": 10 * time.Minute},
		{"until": 120 * time.Minute, "delay": 20 * time.Minute},
		{"until": time.Duration(0), "delay": 30 * time.Minute},
	})
	v.SetDefault("delivery.broadcast_templates", []string{"say {message}", "broadcast {message}"})
	v.SetDefault("delivery.standard_warnings", []string{
		"[VipLinks] {username}, your purchase {product} is ready to be delivered.",
		"[VipLinks] Please make sure you have free space in your inventory.",
		"[VipLinks] Delivery in 1 minute.",
	})
	v.SetDefault("delivery.escalated_warnings", []string{
		"[VipLinks] {username}, we could not deliver {product} yet: your inventory may be full.",
		"[VipLinks] Free up inventory space, we will retry in 10 minutes.",
		"[VipLinks] If it keeps failing, contact seller for a manual delivery.",
	})
	v.SetDefault("delivery.confirmation_notice", "[VipLinks] {username}, {product} delivered!")
	v.SetDefault("delivery.expiry_notice", "[VipLinks] {username}, automatic delivery of {product} expired. Please contact seller.")
}

// validateBackoffTiers 档位按 Until 严格递增，Until 为 0 的兜底档只能放在最后
//
// 选档时按顺序取第一个命中的档位，顺序错了会让后面的档位永远选不到。
func validateBackoffTiers(tiers []BackoffTierConfig) error {
	var prev time.Duration
	for i, tier := range tiers {
		if tier.Until == 0 {
			if i != len(tiers)-1 {
				return fmt.Errorf("delivery.backoff_tiers[%d]: until 为 0 的档位必须是最后一档", i)
			}
			continue
		}
		if tier.Until <= prev {
			return fmt.Errorf("delivery.backoff_tiers[%d]: until %s 必须大于上一档 %s", i, tier.Until, prev)
		}
		prev = tier.Until
	}
	return nil
}
