package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 3000
}

// Addr 返回 host:port 形式的监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MailboxConfig 定义邮箱服务的核心业务配置
type MailboxConfig struct {
	Domains                 []string      // 服务的域名列表，第一个为默认域名
	Retention               time.Duration // 邮箱与邮件的保留时长
	LocalPartLength         int           // 随机地址前缀长度
	PreviewLength           int           // 摘要截取的字符数
	AcceptUnknownRecipients bool          // 是否为未注册地址自动创建邮箱
}

// DefaultDomain 返回默认域名
func (c MailboxConfig) DefaultDomain() string {
	if len(c.Domains) == 0 {
		return ""
	}
	return c.Domains[0]
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string        // SMTP 服务监听地址，格式 "host:port"，默认 ":2525"
	Domain          string        // SMTP 服务器域名，用于 banner 与 HELO/EHLO 响应
	MaxMessageBytes int64         // 单封邮件最大字节数
	MaxRecipients   int           // 单封邮件最多收件人
	MaxConns        int           // 最大并发连接数
	MaxRate         float64       // 每秒新建连接数
	ReadTimeout     time.Duration // 读超时
	WriteTimeout    time.Duration // 写超时
	RestrictDomains bool          // 只接收发往服务域名的邮件
}

// SweeperConfig 定义过期清理任务配置
type SweeperConfig struct {
	Interval time.Duration // 清理周期，默认 1 小时
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，为空时只输出到标准输出
}

// RedisConfig 定义新邮件事件发布所用的 Redis 配置
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示不启用
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Channel  string // 发布频道
}

// Enabled 是否配置了 Redis
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// NotifyConfig 定义新邮件通知的协程池配置
type NotifyConfig struct {
	Workers   int
	QueueSize int
}

// HTTPConfig 定义 HTTP 限流配置
type HTTPConfig struct {
	RateLimit float64 // 每个 IP 每秒请求数
	RateBurst int
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server  ServerConfig  // HTTP 服务器配置
	Mailbox MailboxConfig // 邮箱服务配置
	SMTP    SMTPConfig    // SMTP 服务配置
	Sweeper SweeperConfig // 清理任务配置
	CORS    CORSConfig    // 跨域配置
	Log     LogConfig     // 日志配置
	Redis   RedisConfig   // Redis 配置
	Notify  NotifyConfig  // 通知配置
	HTTP    HTTPConfig    // HTTP 限流配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_
// 例如: TEMPMAIL_SERVER_PORT, TEMPMAIL_MAILBOX_RETENTION_HOURS
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	domainList := parseDomains(v.GetString("mailbox.domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("mailbox.domains must not be empty")
	}

	retentionHours := v.GetInt("mailbox.retention_hours")
	if retentionHours <= 0 {
		return nil, fmt.Errorf("mailbox.retention_hours must be positive, got %d", retentionHours)
	}

	localPartLength := v.GetInt("mailbox.local_part_length")
	if localPartLength < 6 || localPartLength > 32 {
		return nil, fmt.Errorf("mailbox.local_part_length must be within 6..32, got %d", localPartLength)
	}

	previewLength := v.GetInt("mailbox.preview_length")
	if previewLength <= 0 {
		return nil, fmt.Errorf("mailbox.preview_length must be positive, got %d", previewLength)
	}

	maxMessageBytes := v.GetInt64("smtp.max_message_bytes")
	if maxMessageBytes <= 0 {
		return nil, fmt.Errorf("smtp.max_message_bytes must be positive, got %d", maxMessageBytes)
	}

	readTimeout, err := time.ParseDuration(v.GetString("smtp.read_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid smtp.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(v.GetString("smtp.write_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid smtp.write_timeout: %w", err)
	}

	interval, err := time.ParseDuration(v.GetString("sweeper.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid sweeper.interval: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweeper.interval must be positive, got %s", interval)
	}

	smtpDomain := v.GetString("smtp.domain")
	if smtpDomain == "" {
		smtpDomain = domainList[0]
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	workers := v.GetInt("notify.workers")
	if workers <= 0 {
		workers = 4
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			Domains:                 domainList,
			Retention:               time.Duration(retentionHours) * time.Hour,
			LocalPartLength:         localPartLength,
			PreviewLength:           previewLength,
			AcceptUnknownRecipients: v.GetBool("mailbox.accept_unknown_recipients"),
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			Domain:          smtpDomain,
			MaxMessageBytes: maxMessageBytes,
			MaxRecipients:   v.GetInt("smtp.max_recipients"),
			MaxConns:        v.GetInt("smtp.max_conns"),
			MaxRate:         v.GetFloat64("smtp.max_rate"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			RestrictDomains: v.GetBool("smtp.restrict_domains"),
		},
		Sweeper: SweeperConfig{
			Interval: interval,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Notify: NotifyConfig{
			Workers:   workers,
			QueueSize: v.GetInt("notify.queue_size"),
		},
		HTTP: HTTPConfig{
			RateLimit: v.GetFloat64("http.rate_limit"),
			RateBurst: v.GetInt("http.rate_burst"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("mailbox.domains", "temp-mail.local")
	v.SetDefault("mailbox.retention_hours", 24)
	v.SetDefault("mailbox.local_part_length", 10)
	v.SetDefault("mailbox.preview_length", 100)
	v.SetDefault("mailbox.accept_unknown_recipients", true)
	v.SetDefault("smtp.bind_addr", ":2525")
	v.SetDefault("smtp.domain", "")
	v.SetDefault("smtp.max_message_bytes", 10485760)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.max_conns", 100)
	v.SetDefault("smtp.max_rate", 20)
	v.SetDefault("smtp.read_timeout", "10s")
	v.SetDefault("smtp.write_timeout", "10s")
	v.SetDefault("smtp.restrict_domains", false)
	v.SetDefault("sweeper.interval", "1h")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("redis.address", "") // 默认为空，不发布事件
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "tempmail:newmail")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("http.rate_limit", 10)
	v.SetDefault("http.rate_burst", 20)
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
