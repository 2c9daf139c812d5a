// Package sweeper 周期性清理超过保留期的邮件与邮箱。
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/monitoring"
	"tempmail/disposable/internal/storage"
)

// Report 是一次清理的结果。
type Report struct {
	At                 time.Time     `json:"at"`
	Cutoff             time.Time     `json:"cutoff"`
	MessagesEvicted    int           `json:"messagesEvicted"`
	MailboxesEvicted   int           `json:"mailboxesEvicted"`
	MessagesRemaining  int           `json:"messagesRemaining"`
	MailboxesRemaining int           `json:"mailboxesRemaining"`
	Duration           time.Duration `json:"duration"`
}

// Sweeper 按固定周期批量淘汰过期数据。
// 错过或推迟的清理只会让数据多保留一会儿，不会提前删除。
type Sweeper struct {
	messages  storage.MessageRepository
	mailboxes storage.MailboxRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	metrics   *monitoring.Metrics
	log       *zap.Logger

	mu   sync.RWMutex
	last Report
}

// New 创建清理任务
func New(messages storage.MessageRepository, mailboxes storage.MailboxRepository, retention, interval time.Duration, log *zap.Logger, metrics *monitoring.Metrics) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		messages:  messages,
		mailboxes: mailboxes,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		metrics:   metrics,
		log:       log.Named("sweeper"),
	}
}

// SetClock 替换时钟，测试使用
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Interval 返回清理周期
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run 按周期执行清理，直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(s.now())
		}
	}
}

// RunOnce 以 now 为基准执行一次清理：cutoff = now - retention
func (s *Sweeper) RunOnce(now time.Time) Report {
	start := time.Now()
	cutoff := domain.Cutoff(now, s.retention)

	report := Report{
		At:               now,
		Cutoff:           cutoff,
		MessagesEvicted:  s.messages.EvictOlderThan(cutoff),
		MailboxesEvicted: s.mailboxes.EvictOlderThan(cutoff),
	}
	report.MessagesRemaining = s.messages.Count()
	report.MailboxesRemaining = s.mailboxes.Count()
	report.Duration = time.Since(start)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.metrics.RecordSweep(now, report.Duration, report.MessagesEvicted, report.MailboxesEvicted)
	s.metrics.UpdateStoreSizes(report.MessagesRemaining, report.MailboxesRemaining)

	s.log.Info("cleanup completed",
		zap.Int("messages_evicted", report.MessagesEvicted),
		zap.Int("mailboxes_evicted", report.MailboxesEvicted),
		zap.Int("messages_active", report.MessagesRemaining),
		zap.Int("mailboxes_active", report.MailboxesRemaining),
	)
	return report
}

// LastRun 返回最近一次清理结果，从未运行时 ok 为 false
func (s *Sweeper) LastRun() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, !s.last.At.IsZero()
}
