package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"wabroadcast"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"wabroadcast"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`
	// 只读副本，状态查询走副本；为空时不启用读写分离
	PostgreSQLReplicaHost string `env:"POSTGRESQL_REPLICA_HOST"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"wab"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置，token 的 identity 是坐席（agent）ID
	JWTSecret        string `env:"JWT_SECRET"`
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`
	JWTRefreshDays   int    `env:"JWT_REFRESH_DAYS" envDefault:"7"`

	// 调度配置
	TickIntervalSeconds       int    `env:"TICK_INTERVAL_SECONDS" envDefault:"5"`
	TickTimeoutSeconds        int    `env:"TICK_TIMEOUT_SECONDS" envDefault:"30"`
	ClaimAbandonAfterSeconds  int    `env:"CLAIM_ABANDON_AFTER_SECONDS" envDefault:"300"`
	DispatchDefaultMaxAttempt int    `env:"DISPATCH_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	DispatchMode              string `env:"DISPATCH_MODE" envDefault:"inline"` // inline, queue
	DispatchQueue             string `env:"DISPATCH_QUEUE" envDefault:"broadcast.dispatch"`
	WorkerPrefetch            int    `env:"WORKER_PREFETCH" envDefault:"10"`
	SchedulerEmbedded         bool   `env:"SCHEDULER_EMBEDDED" envDefault:"false"`
	CronSecret                string `env:"CRON_SECRET"`

	// 消息发送配置
	// AccessKey 通过阿里云 SDK 的环境变量自动获取：ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET
	SenderProvider      string `env:"SENDER_PROVIDER" envDefault:"mock"` // mock, aliyun
	ChatAppEndpoint     string `env:"CHATAPP_ENDPOINT" envDefault:"cams.ap-southeast-1.aliyuncs.com"`
	ChatAppCustSpaceID  string `env:"CHATAPP_CUST_SPACE_ID"`
	ChatAppFromNumber   string `env:"CHATAPP_FROM_NUMBER"`
	ChatAppTimeoutMilli int    `env:"CHATAPP_TIMEOUT_MS" envDefault:"10000"`

	// 默认号码地区，用于将本地号码规范化为 E.164
	DefaultPhoneRegion string `env:"DEFAULT_PHONE_REGION" envDefault:"US"`

	// 模板缓存
	TemplateCacheTTLSeconds int `env:"TEMPLATE_CACHE_TTL_SECONDS" envDefault:"600"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`
	LoggerMaxSizeMB  int    `env:"LOGGER_MAX_SIZE_MB" envDefault:"100"`
	LoggerMaxBackups int    `env:"LOGGER_MAX_BACKUPS" envDefault:"7"`
	LoggerMaxAgeDays int    `env:"LOGGER_MAX_AGE_DAYS" envDefault:"30"`

	// 链路追踪 / 指标
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`

	// 速率限制配置, 配置在中间件内
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

// validateConfig 生产环境缺失必填项直接退出，其它环境只告警
func validateConfig() {
	required := func(ok bool, msg string) {
		if ok {
			return
		}
		if Cfg.IsProduction() {
			log.Fatal(msg)
		}
		log.Printf("WARN: %s", msg)
	}

	required(Cfg.JWTSecret != "", "JWT_SECRET is required")
	required(Cfg.CronSecret != "", "CRON_SECRET is required, /cron/run-once will reject every call")
	required(Cfg.DispatchMode == "inline" || Cfg.DispatchMode == "queue", "DISPATCH_MODE must be inline or queue")

	if Cfg.SenderProvider == "aliyun" && Cfg.ChatAppCustSpaceID == "" {
		log.Printf("WARN: CHATAPP_CUST_SPACE_ID is not set, ChatApp sender will not work")
	}
	if Cfg.TickIntervalSeconds <= 0 {
		log.Printf("WARN: TICK_INTERVAL_SECONDS=%d is invalid, falling back to 5", Cfg.TickIntervalSeconds)
		Cfg.TickIntervalSeconds = 5
	}
	if Cfg.DispatchDefaultMaxAttempt <= 0 {
		Cfg.DispatchDefaultMaxAttempt = 3
	}
}

func (c *Config) GetDSN() string {
	return c.dsnFor(c.PostgreSQLHost)
}

// GetReplicaDSN 只读副本 DSN，未配置时返回空串
func (c *Config) GetReplicaDSN() string {
	if c.PostgreSQLReplicaHost == "" {
		return ""
	}
	return c.dsnFor(c.PostgreSQLReplicaHost)
}

func (c *Config) dsnFor(host string) string {
	return "host=" + host +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c *Config) TickTimeout() time.Duration {
	return time.Duration(c.TickTimeoutSeconds) * time.Second
}

func (c *Config) ClaimAbandonAfter() time.Duration {
	return time.Duration(c.ClaimAbandonAfterSeconds) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
