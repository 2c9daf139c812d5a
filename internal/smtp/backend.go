// Package smtp 提供只收信的 SMTP 服务，把每个 DATA 交给投递流程处理。
package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/disposable/internal/config"
	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/intake"
	"tempmail/disposable/internal/logger"
	"tempmail/disposable/internal/monitoring"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器，不支持认证，也没有中继功能。
// 开启 RestrictDomains 后只接收发往服务域名的邮件，其它地址一律返回 550。
// 收件人是否必须预先注册由投递流程的 AcceptUnknownRecipients 决定。
type Backend struct {
	pipeline *intake.Pipeline
	domains  map[string]struct{}
	restrict bool
	limiter  *ConnectionLimiter
	metrics  *monitoring.Metrics
	log      *zap.Logger

	// ctx 在 Close 时取消，正在解析的会话随之中止
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBackend 创建 SMTP Backend。
func NewBackend(pipeline *intake.Pipeline, cfg config.SMTPConfig, domains []string, log *zap.Logger, metrics *monitoring.Metrics) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Backend{
		pipeline: pipeline,
		domains:  set,
		restrict: cfg.RestrictDomains,
		limiter:  NewConnectionLimiter(cfg.MaxConns, cfg.MaxRate),
		metrics:  metrics,
		log:      log.Named("smtp"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewServer 按配置创建 go-smtp 服务器。
func NewServer(b *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	s := gosmtp.NewServer(b)
	s.Addr = cfg.BindAddr
	s.Domain = cfg.Domain
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.ErrorLog = logger.NewSMTPErrorLog(b.log)
	return s
}

// Close 取消所有会话的上下文。
func (b *Backend) Close() {
	b.cancel()
}

// ActiveSessions 当前会话数
func (b *Backend) ActiveSessions() int {
	return b.limiter.Current()
}

// NewSession 创建新的 SMTP 会话，超出连接数或速率时返回 421。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := remoteAddr(c)
	if !b.limiter.Acquire() {
		b.metrics.RecordSMTPRejected("connection_limit")
		b.log.Warn("connection rejected by limiter", zap.String("remote", remote))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	id := uuid.NewString()
	return &session{
		backend: b,
		id:      id,
		log:     b.log.With(zap.String("session", id), zap.String("remote", remote)),
	}, nil
}

func remoteAddr(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	if addr := c.Conn().RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return host
		}
		return addr.String()
	}
	return ""
}

type session struct {
	backend    *Backend
	id         string
	log        *zap.Logger
	from       string
	recipients []string
	release    sync.Once
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 验证流程：
// 1. 地址语法不合法返回 501
// 2. 开启 RestrictDomains 时域名必须是服务域名，否则 550 拒绝中继
// 3. 不接收未知收件人时，邮箱不存在返回 550
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)

	if s.backend.restrict {
		_, host, err := domain.SplitAddress(addr)
		if err == nil {
			if _, ok := s.backend.domains[host]; !ok {
				s.backend.metrics.RecordSMTPRejected("relay")
				return &gosmtp.SMTPError{
					Code:         550,
					EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
					Message:      "relay access denied - domain not managed by this server",
				}
			}
		}
	}

	if err := s.backend.pipeline.Accepts(addr); err != nil {
		switch {
		case errors.Is(err, domain.ErrMailboxNotFound):
			s.backend.metrics.RecordSMTPRejected("unknown_recipient")
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
				Message:      "recipient mailbox not found",
			}
		default:
			s.backend.metrics.RecordSMTPRejected("invalid_recipient")
			return &gosmtp.SMTPError{
				Code:         501,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
				Message:      "invalid recipient address",
			}
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	env := intake.Envelope{
		SessionID:  s.id,
		From:       s.from,
		Recipients: append([]string(nil), s.recipients...),
	}
	data := &dataReader{r: r}
	result, err := s.backend.pipeline.Receive(s.backend.ctx, env, data)
	if err != nil {
		if data.err != nil {
			// 解析器不一定保留读取错误链，超长等协议错误以读取时记录的为准
			s.backend.metrics.RecordSMTPRejected("too_large")
			s.log.Info("message rejected", zap.Error(data.err))
			return data.err
		}
		return s.dataError(err)
	}

	if len(result.Failed) > 0 {
		s.log.Warn("message partially delivered",
			zap.String("id", result.MessageID),
			zap.Int("delivered", len(result.Delivered)),
			zap.Int("failed", len(result.Failed)),
		)
	}
	return nil
}

// dataReader 记录 DATA 读取过程中 go-smtp 返回的协议错误，例如超过 MaxMessageBytes 的 552。
type dataReader struct {
	r   io.Reader
	err *gosmtp.SMTPError
}

func (d *dataReader) Read(b []byte) (int, error) {
	n, err := d.r.Read(b)
	if err != nil && d.err == nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			d.err = smtpErr
		}
	}
	return n, err
}

// dataError 把投递错误映射成 SMTP 回复。
func (s *session) dataError(err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		// 超过 MaxMessageBytes 等由 go-smtp 生成的错误原样返回
		s.backend.metrics.RecordSMTPRejected("too_large")
		return smtpErr
	}

	switch {
	case errors.Is(err, intake.ErrNoRecipients):
		s.backend.metrics.RecordSMTPRejected("no_recipients")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no deliverable recipients",
		}
	case errors.Is(err, intake.ErrParseFailed):
		s.backend.metrics.RecordSMTPRejected("parse_failed")
		s.log.Warn("message rejected", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 6, 0},
			Message:      "message could not be processed, try again later",
		}
	default:
		s.log.Error("delivery failed", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "local error in processing",
		}
	}
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接许可。
func (s *session) Logout() error {
	s.release.Do(s.backend.limiter.Release)
	return nil
}
