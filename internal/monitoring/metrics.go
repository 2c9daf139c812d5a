package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 每个实例使用独立的注册表，测试中可以并存多个应用实例。
// 所有方法允许 nil 接收者，未启用监控时直接忽略。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated *prometheus.CounterVec
	MailboxesDeleted prometheus.Counter
	MailboxesExpired prometheus.Counter
	MailboxesActive  prometheus.Gauge

	// 邮件指标
	MessagesReceived prometheus.Counter
	MessagesExpired  prometheus.Counter
	MessagesTotal    prometheus.Gauge

	// 投递流程指标
	IntakeSessions   *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	ParseDuration    prometheus.Histogram
	AttachmentSize   *prometheus.HistogramVec

	// SMTP 连接
	SMTPRejected *prometheus.CounterVec

	// 通知
	NotificationsDropped prometheus.Counter
	NotificationsFailed  *prometheus.CounterVec

	// 清理任务
	SweepDuration prometheus.Histogram
	LastSweep     prometheus.Gauge

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在给定注册表上创建监控指标，reg 为空时新建一个。
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_mailboxes_created_total",
				Help: "Total number of mailboxes created, by origin",
			},
			[]string{"origin"},
		),
		MailboxesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_deleted_total",
			Help: "Total number of mailboxes deleted",
		}),
		MailboxesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_expired_total",
			Help: "Total number of expired mailboxes",
		}),
		MailboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_mailboxes_active",
			Help: "Number of active mailboxes",
		}),

		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_messages_received_total",
			Help: "Total number of messages received",
		}),
		MessagesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_messages_expired_total",
			Help: "Total number of expired messages",
		}),
		MessagesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_messages_total",
			Help: "Total number of stored messages",
		}),

		IntakeSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_intake_sessions_total",
				Help: "Intake session state transitions",
			},
			[]string{"state"},
		),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_delivery_failures_total",
			Help: "Per-recipient delivery failures",
		}),
		ParseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_parse_duration_seconds",
			Help:    "Inbound message parse duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		AttachmentSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
			},
			[]string{"type"},
		),

		SMTPRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_rejected_total",
				Help: "SMTP connections or commands rejected, by reason",
			},
			[]string{"reason"},
		),

		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_notifications_dropped_total",
			Help: "New-mail notifications dropped because the queue was full",
		}),
		NotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_notifications_failed_total",
				Help: "New-mail notifications that failed, by notifier",
			},
			[]string{"notifier"},
		),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_sweep_duration_seconds",
			Help:    "Eviction sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LastSweep: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_last_sweep_timestamp_seconds",
			Help: "Unix time of the last completed eviction sweep",
		}),

		SystemUptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_system_uptime_seconds",
			Help: "System uptime in seconds",
		}),
		MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_memory_usage_bytes",
			Help: "Heap memory in use in bytes",
		}),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_panics_total",
			Help: "Total number of panics",
		}),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),
	}
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMailboxCreated 记录邮箱创建，origin 为 random、custom 或 inbound
func (m *Metrics) RecordMailboxCreated(origin string) {
	if m == nil {
		return
	}
	m.MailboxesCreated.WithLabelValues(origin).Inc()
}

// RecordMailboxDeleted 记录邮箱删除
func (m *Metrics) RecordMailboxDeleted() {
	if m == nil {
		return
	}
	m.MailboxesDeleted.Inc()
}

// RecordMessageReceived 记录邮件接收
func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// RecordIntakeState 记录投递会话状态迁移
func (m *Metrics) RecordIntakeState(state string) {
	if m == nil {
		return
	}
	m.IntakeSessions.WithLabelValues(state).Inc()
}

// RecordDeliveryFailure 记录单个收件人投递失败
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordParseDuration 记录解析耗时
func (m *Metrics) RecordParseDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ParseDuration.Observe(d.Seconds())
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(attachmentType string, size int64) {
	if m == nil {
		return
	}
	m.AttachmentSize.WithLabelValues(attachmentType).Observe(float64(size))
}

// RecordSMTPRejected 记录 SMTP 拒绝
func (m *Metrics) RecordSMTPRejected(reason string) {
	if m == nil {
		return
	}
	m.SMTPRejected.WithLabelValues(reason).Inc()
}

// RecordNotificationDropped 记录通知被丢弃
func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// RecordNotificationFailed 记录通知失败
func (m *Metrics) RecordNotificationFailed(notifier string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(notifier).Inc()
}

// RecordSweep 记录一次清理
func (m *Metrics) RecordSweep(at time.Time, d time.Duration, messages, mailboxes int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.LastSweep.Set(float64(at.Unix()))
	m.MessagesExpired.Add(float64(messages))
	m.MailboxesExpired.Add(float64(mailboxes))
}

// UpdateStoreSizes 更新存储中的邮件与邮箱数量
func (m *Metrics) UpdateStoreSizes(messages, mailboxes int) {
	if m == nil {
		return
	}
	m.MessagesTotal.Set(float64(messages))
	m.MailboxesActive.Set(float64(mailboxes))
}

// UpdateSystem 更新运行时间与内存
func (m *Metrics) UpdateSystem(uptime time.Duration, heapBytes uint64) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
	m.MemoryUsage.Set(float64(heapBytes))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
