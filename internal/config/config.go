package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，如 ARMT_SERVER_ADDR。
// 字段使用 split_words 而非显式名称，避免 envconfig 读取 PATH 等无前缀变量
const EnvPrefix = "ARMT"

// Config 应用配置
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	Auth     AuthConfig     `yaml:"auth" envconfig:"AUTH"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Telegram TelegramConfig `yaml:"telegram" envconfig:"TELEGRAM"`
	Sheets   SheetsConfig   `yaml:"sheets" envconfig:"SHEETS"`
	Admin    AdminConfig    `yaml:"admin" envconfig:"ADMIN"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	AllowedOrigins  string        `yaml:"allowed_origins" split_words:"true"`
	// RateLimit 每个 IP 每分钟登录、验证码与许可证验证请求上限，负数表示不限
	RateLimit int `yaml:"rate_limit" split_words:"true"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// RedisConfig 会话存储配置，URL 为空时使用内存
type RedisConfig struct {
	URL string `yaml:"url" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret" split_words:"true"`
	TokenTTL       time.Duration `yaml:"token_ttl" split_words:"true"`
	SessionTTL     time.Duration `yaml:"session_ttl" split_words:"true"`
	ChallengeTTL   time.Duration `yaml:"challenge_ttl" split_words:"true"`
	LinkCodeTTL    time.Duration `yaml:"link_code_ttl" split_words:"true"`
	CookieInsecure bool          `yaml:"cookie_insecure" split_words:"true"`
}

type LicenseConfig struct {
	DefaultMaxActivations int    `yaml:"default_max_activations" split_words:"true"`
	ClientVersion         string `yaml:"client_version" split_words:"true"`
}

// TelegramConfig 机器人配置，未配置 token 时验证码无法发送
type TelegramConfig struct {
	BotToken      string        `yaml:"bot_token" split_words:"true"`
	WebhookURL    string        `yaml:"webhook_url" split_words:"true"`
	WebhookSecret string        `yaml:"webhook_secret" split_words:"true"`
	SendTimeout   time.Duration `yaml:"send_timeout" split_words:"true"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled" split_words:"true"`
	CredentialsPath string `yaml:"credentials_path" split_words:"true"`
	SpreadsheetID   string `yaml:"spreadsheet_id" split_words:"true"`
	SheetName       string `yaml:"sheet_name" split_words:"true"`
}

// AdminConfig 空库时创建的初始管理员
type AdminConfig struct {
	Email    string `yaml:"email" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Load 读取 ARMT_CONFIG 指定的 YAML（可选），再叠加环境变量，最后填充默认值
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyDefaults 填充零值字段，在文件和环境变量之后执行
func (c *Config) applyDefaults() {
	setString(&c.Server.Addr, ":80")
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 10*time.Second)
	setString(&c.Server.AllowedOrigins, "*")
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 30
	}
	setString(&c.Database.Path, "data/license.db")
	setDuration(&c.Auth.TokenTTL, 24*time.Hour)
	setDuration(&c.Auth.SessionTTL, 24*time.Hour)
	setDuration(&c.Auth.ChallengeTTL, 5*time.Minute)
	setDuration(&c.Auth.LinkCodeTTL, 10*time.Minute)
	if c.License.DefaultMaxActivations == 0 {
		c.License.DefaultMaxActivations = 1
	}
	setString(&c.License.ClientVersion, "2.0.1")
	setDuration(&c.Telegram.SendTimeout, 10*time.Second)
	setString(&c.Sheets.SheetName, "Licenses")
	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("auth.challenge_ttl must be positive"))
	}
	if c.Auth.SessionTTL < c.Auth.ChallengeTTL {
		errs = append(errs, errors.New("auth.session_ttl must not be shorter than auth.challenge_ttl"))
	}
	if c.License.DefaultMaxActivations < 1 {
		errs = append(errs, errors.New("license.default_max_activations must be at least 1"))
	}
	if c.Telegram.SendTimeout <= 0 {
		errs = append(errs, errors.New("telegram.send_timeout must be positive"))
	}
	if c.Sheets.Enabled && (c.Sheets.CredentialsPath == "" || c.Sheets.SpreadsheetID == "") {
		errs = append(errs, errors.New("sheets.credentials_path and sheets.spreadsheet_id are required when sheets sync is enabled"))
	}
	return errors.Join(errs...)
}
