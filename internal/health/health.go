// Package health 提供存活与就绪检查。
package health

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/disposable/internal/sweeper"
)

const (
	defaultMaxGoroutines = 10000
	dialTimeout          = time.Second
)

// SweepReporter 提供最近一次清理结果
type SweepReporter interface {
	LastRun() (sweeper.Report, bool)
	Interval() time.Duration
}

// Options 健康检查配置
type Options struct {
	SMTPAddr      string        // SMTP 监听地址，为空时不检查
	Sweeper       SweepReporter // 为空时不检查
	MaxGoroutines int
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]healthcheck.Check
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(opts Options, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = defaultMaxGoroutines
	}

	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]healthcheck.Check),
		logger: logger.Named("health"),
	}
	hc.addChecks(opts)
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks(opts Options) {
	goroutines := healthcheck.GoroutineCountCheck(opts.MaxGoroutines)
	hc.health.AddLivenessCheck("goroutine-threshold", goroutines)
	hc.checks["goroutine-threshold"] = goroutines

	if opts.SMTPAddr != "" {
		smtpCheck := healthcheck.TCPDialCheck(dialAddr(opts.SMTPAddr), dialTimeout)
		hc.health.AddReadinessCheck("smtp", smtpCheck)
		hc.checks["smtp"] = smtpCheck
	}

	if opts.Sweeper != nil {
		sweepCheck := SweeperFreshnessCheck(opts.Sweeper, time.Now(), time.Now)
		hc.health.AddReadinessCheck("sweeper", sweepCheck)
		hc.checks["sweeper"] = sweepCheck
	}
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部检查，返回每项检查的结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	for _, name := range names {
		if err := hc.checks[name](); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// Healthy 所有检查是否通过
func (hc *HealthChecker) Healthy() bool {
	for _, check := range hc.checks {
		if check() != nil {
			return false
		}
	}
	return true
}

// SweeperFreshnessCheck 清理任务超过两个周期没有运行视为不健康。
// 尚未运行过时从 started 开始计时。
func SweeperFreshnessCheck(s SweepReporter, started time.Time, now func() time.Time) healthcheck.Check {
	return func() error {
		last := started
		if report, ok := s.LastRun(); ok {
			last = report.At
		}
		limit := 2 * s.Interval()
		if age := now().Sub(last); age > limit {
			return fmt.Errorf("last sweep %s ago exceeds %s", age.Truncate(time.Second), limit)
		}
		return nil
	}
}

// dialAddr 把 ":2525" 这类地址转成可拨号的本地地址
func dialAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
