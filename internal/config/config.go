package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const (
	SettlementModeLocal   = "local"
	SettlementModeGateway = "gateway"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Business   BusinessConfig   `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig 数据库配置，driver 可选 mysql / postgres / sqlite（path 仅 sqlite 使用）
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SettlementResult string `mapstructure:"settlement_result"`
}

// GatewayConfig 收银台网关配置，构造网关客户端时显式传入
type GatewayConfig struct {
	Handle         string `mapstructure:"handle"`
	BaseURL        string `mapstructure:"base_url"`
	WebhookBaseURL string `mapstructure:"webhook_base_url"`
	RedirectURL    string `mapstructure:"redirect_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SettlementConfig 结算路由：支付类型 -> local / gateway
// 注意 viper 会把 map 的 key 转成小写，查询统一走 RouteFor
type SettlementConfig struct {
	DefaultMode string            `mapstructure:"default_mode"`
	Routes      map[string]string `mapstructure:"routes"`
}

type BusinessConfig struct {
	MaxRetryCount                int `mapstructure:"max_retry_count"`
	ReconcileIntervalSeconds     int `mapstructure:"reconcile_interval_seconds"`
	PendingReconcileAfterSeconds int `mapstructure:"pending_reconcile_after_seconds"`
	ReconcileBatchSize           int `mapstructure:"reconcile_batch_size"`
	LockTTLSeconds               int `mapstructure:"lock_ttl_seconds"`
}

var GlobalConfig *Config

// RouteFor 返回支付类型对应的结算模式，未配置时使用 default_mode
func (c *SettlementConfig) RouteFor(paymentType string) string {
	for k, v := range c.Routes {
		if strings.EqualFold(k, paymentType) {
			return strings.ToLower(v)
		}
	}
	return strings.ToLower(c.DefaultMode)
}

// UsesGateway 是否有任何路由走网关
func (c *SettlementConfig) UsesGateway() bool {
	if strings.EqualFold(c.DefaultMode, SettlementModeGateway) {
		return true
	}
	for _, v := range c.Routes {
		if strings.EqualFold(v, SettlementModeGateway) {
			return true
		}
	}
	return false
}

func validMode(mode string) bool {
	m := strings.ToLower(mode)
	return m == SettlementModeLocal || m == SettlementModeGateway
}

// Validate 校验配置之间的约束
func (c *Config) Validate() error {
	var errs []error

	if !validMode(c.Settlement.DefaultMode) {
		errs = append(errs, fmt.Errorf("settlement.default_mode %q 必须是 local 或 gateway", c.Settlement.DefaultMode))
	}
	for paymentType, mode := range c.Settlement.Routes {
		if !validMode(mode) {
			errs = append(errs, fmt.Errorf("settlement.routes.%s: 未知结算模式 %q", paymentType, mode))
		}
		if strings.EqualFold(paymentType, "PIX") && strings.EqualFold(mode, SettlementModeLocal) {
			errs = append(errs, errors.New("settlement.routes.pix: PIX 没有本地费率，不能走 local"))
		}
	}
	if c.Settlement.UsesGateway() {
		if c.Gateway.Handle == "" {
			errs = append(errs, errors.New("存在网关路由时 gateway.handle 不能为空"))
		}
		if c.Gateway.BaseURL == "" {
			errs = append(errs, errors.New("存在网关路由时 gateway.base_url 不能为空"))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("启用 kafka 时 kafka.brokers 不能为空"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("kafka.topic.settlement_result", "settlement.result")
	v.SetDefault("gateway.base_url", "https://api.infinitepay.io")
	v.SetDefault("gateway.timeout_seconds", 10)
	v.SetDefault("settlement.default_mode", SettlementModeLocal)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval_seconds", 30)
	v.SetDefault("business.pending_reconcile_after_seconds", 120)
	v.SetDefault("business.reconcile_batch_size", 50)
	v.SetDefault("business.lock_ttl_seconds", 10)
}

// Load 读取配置文件，环境变量 PAYSETTLE_* 可覆盖任意键
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PAYSETTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	GlobalConfig = cfg
	return cfg
}
