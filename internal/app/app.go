// Package app 组装存储、投递流程、清理任务与 SMTP 服务，提供统一的生命周期。
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/disposable/internal/config"
	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/health"
	"tempmail/disposable/internal/intake"
	"tempmail/disposable/internal/monitoring"
	"tempmail/disposable/internal/notify"
	"tempmail/disposable/internal/parser"
	"tempmail/disposable/internal/pool"
	"tempmail/disposable/internal/service"
	"tempmail/disposable/internal/smtp"
	"tempmail/disposable/internal/storage/memory"
	"tempmail/disposable/internal/sweeper"
	"tempmail/disposable/internal/websocket"
)

const systemMetricsInterval = 15 * time.Second

// ErrAlreadyStarted Start 被重复调用
var ErrAlreadyStarted = errors.New("app already started")

// MemoryStats 进程内存占用，单位 MB
type MemoryStats struct {
	RSS       float64 `json:"rss"`
	HeapTotal float64 `json:"heapTotal"`
	HeapUsed  float64 `json:"heapUsed"`
}

// Stats 邮件与邮箱数量以及运行时信息
type Stats struct {
	domain.Stats
	Memory     MemoryStats `json:"memory"`
	Goroutines int         `json:"goroutines"`
	Uptime     string      `json:"uptime"`
}

// App 是整个服务的唯一入口对象，多个实例之间互不影响。
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	messages  *memory.MessageStore
	mailboxes *memory.MailboxStore

	mailboxService *service.MailboxService
	messageService *service.MessageService
	pipeline       *intake.Pipeline
	sweeper        *sweeper.Sweeper
	workers        *pool.WorkerPool
	hub            *websocket.Hub
	redis          *notify.RedisPublisher
	backend        *smtp.Backend
	smtpServer     *gosmtp.Server
	health         *health.HealthChecker

	mu       sync.Mutex
	started  time.Time
	cancel   context.CancelFunc
	group    *errgroup.Group
	smtpAddr net.Addr
}

// Option 配置 App
type Option func(*App)

// WithClock 替换存储与清理任务使用的时钟
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithMetrics 使用指定的监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New 创建服务对象。Redis 已配置但无法连接时返回错误。
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if log == nil {
		log = zap.NewNop()
	}

	a := &App{
		cfg: cfg,
		log: log,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = monitoring.NewMetrics(nil)
	}

	a.messages = memory.NewMessageStore(a.now)
	a.mailboxes = memory.NewMailboxStore(a.now)
	a.mailboxService = service.NewMailboxService(a.mailboxes, cfg.Mailbox, a.metrics)
	a.messageService = service.NewMessageService(a.messages)

	a.hub = websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	notifiers := notify.Multi{a.hub}
	if cfg.Redis.Enabled() {
		publisher, err := notify.NewRedisPublisher(cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis publisher: %w", err)
		}
		a.redis = publisher
		notifiers = append(notifiers, publisher)
	}

	a.workers = pool.NewWorkerPool(cfg.Notify.Workers, cfg.Notify.QueueSize, log)

	a.pipeline = intake.New(a.messages, a.mailboxes, parser.New(cfg.SMTP.MaxMessageBytes),
		intake.Config{
			PreviewLength:           cfg.Mailbox.PreviewLength,
			AcceptUnknownRecipients: cfg.Mailbox.AcceptUnknownRecipients,
		},
		intake.WithClock(a.now),
		intake.WithNotifier(notifiers, a.workers),
		intake.WithMetrics(a.metrics),
		intake.WithLogger(log),
	)

	a.sweeper = sweeper.New(a.messages, a.mailboxes, cfg.Mailbox.Retention, cfg.Sweeper.Interval, log, a.metrics)
	a.sweeper.SetClock(a.now)

	a.backend = smtp.NewBackend(a.pipeline, cfg.SMTP, cfg.Mailbox.Domains, log, a.metrics)
	a.smtpServer = smtp.NewServer(a.backend, cfg.SMTP)

	return a, nil
}

// Start 绑定 SMTP 端口并启动后台任务，立即返回。
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return ErrAlreadyStarted
	}

	l, err := net.Listen("tcp", a.cfg.SMTP.BindAddr)
	if err != nil {
		return fmt.Errorf("listen smtp %s: %w", a.cfg.SMTP.BindAddr, err)
	}
	a.smtpAddr = l.Addr()
	a.health = health.NewHealthChecker(health.Options{
		SMTPAddr: l.Addr().String(),
		Sweeper:  a.sweeper,
	}, a.log)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g
	a.started = time.Now()

	a.workers.Start()

	g.Go(func() error {
		a.log.Info("starting SMTP server",
			zap.String("address", l.Addr().String()),
			zap.String("domain", a.cfg.SMTP.Domain),
		)
		if err := a.smtpServer.Serve(l); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			return fmt.Errorf("smtp server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// 任一后台任务失败或外部取消时关闭 SMTP 服务
		<-gctx.Done()
		a.backend.Close()
		if err := a.smtpServer.Close(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			a.log.Warn("SMTP server close warning", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.reportSystemMetrics(gctx)
		return nil
	})

	return nil
}

// Wait 等待后台任务全部退出
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop 停止接收新连接，取消后台任务并等待退出。
func (a *App) Stop() error {
	a.mu.Lock()
	cancel, g := a.cancel, a.group
	a.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		if err := g.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	a.workers.Stop()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.log.Info("app stopped")
	return errors.Join(errs...)
}

func (a *App) reportSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		a.metrics.UpdateStoreSizes(a.messages.Count(), a.mailboxes.Count())
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		a.metrics.UpdateSystem(time.Since(a.started), m.HeapAlloc)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SMTPAddr 返回实际监听的 SMTP 地址，未启动时为空
func (a *App) SMTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.smtpAddr
}

// CreateRandomAddress 生成随机地址，domain 为空时使用默认域名
func (a *App) CreateRandomAddress(domainName string) (string, error) {
	return a.mailboxService.CreateRandom(domainName)
}

// CreateCustomAddress 使用指定前缀创建地址
func (a *App) CreateCustomAddress(localPart, domainName string) (string, error) {
	return a.mailboxService.CreateCustom(localPart, domainName)
}

// CheckAvailability 检查前缀是否可用
func (a *App) CheckAvailability(localPart, domainName string) (bool, error) {
	return a.mailboxService.CheckAvailability(localPart, domainName)
}

// ListInbox 返回收件箱摘要，按到达顺序排列
func (a *App) ListInbox(address string) []domain.Preview {
	return a.mailboxService.List(address)
}

// Inbox 返回收件箱摘要与过期时间
func (a *App) Inbox(address string) domain.Inbox {
	return a.mailboxService.Inbox(address)
}

// ReadMessage 读取完整邮件
func (a *App) ReadMessage(id string) (domain.Message, error) {
	return a.messageService.Get(id)
}

// DeleteInbox 删除邮箱，邮件本身保留到过期
func (a *App) DeleteInbox(address string) {
	a.mailboxService.Delete(address)
}

// Stats 返回当前统计
func (a *App) Stats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := Stats{
		Stats: domain.Stats{
			MessageCount: a.messageService.Count(),
			MailboxCount: a.mailboxService.Count(),
		},
		Memory: MemoryStats{
			RSS:       toMB(m.Sys),
			HeapTotal: toMB(m.HeapSys),
			HeapUsed:  toMB(m.HeapAlloc),
		},
		Goroutines: runtime.NumGoroutine(),
	}

	a.mu.Lock()
	if !a.started.IsZero() {
		stats.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	a.mu.Unlock()
	return stats
}

func toMB(b uint64) float64 {
	return float64(b*100/1024/1024) / 100
}

// Config 返回配置
func (a *App) Config() *config.Config { return a.cfg }

// Mailboxes 返回邮箱服务
func (a *App) Mailboxes() *service.MailboxService { return a.mailboxService }

// Pipeline 返回投递流程，供测试与其它传输层直接投递
func (a *App) Pipeline() *intake.Pipeline { return a.pipeline }

// Sweeper 返回清理任务
func (a *App) Sweeper() *sweeper.Sweeper { return a.sweeper }

// Hub 返回 WebSocket Hub
func (a *App) Hub() *websocket.Hub { return a.hub }

// Metrics 返回监控指标
func (a *App) Metrics() *monitoring.Metrics { return a.metrics }

// Health 返回健康检查，Start 之前为空
func (a *App) Health() *health.HealthChecker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// Logger 返回日志
func (a *App) Logger() *zap.Logger { return a.log }
