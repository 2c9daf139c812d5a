// Package intake 把解析后的入站邮件写入邮件存储，并向每个收件人的邮箱追加摘要。
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/idgen"
	"tempmail/disposable/internal/monitoring"
	"tempmail/disposable/internal/notify"
	"tempmail/disposable/internal/parser"
	"tempmail/disposable/internal/pool"
	"tempmail/disposable/internal/storage"
)

var (
	// ErrParseFailed 解析失败或被取消，存储没有任何变化。
	ErrParseFailed = errors.New("parse failed")
	// ErrNoRecipients 没有可投递的收件人。
	ErrNoRecipients = errors.New("no deliverable recipients")
)

const (
	defaultPreviewLength = 100
	notifyTimeout        = 5 * time.Second
)

// Envelope 是传输层提供的信封信息。
type Envelope struct {
	SessionID  string
	From       string   // MAIL FROM
	Recipients []string // RCPT TO，顺序保留
	ReceivedAt time.Time
}

// RecipientError 记录单个收件人的投递失败。
type RecipientError struct {
	Address string
	Err     error
}

func (e RecipientError) Error() string { return e.Address + ": " + e.Err.Error() }

// Result 是一次投递的结果。
type Result struct {
	MessageID string
	Delivered []string
	Created   []string // 因本次投递新建的邮箱
	Failed    []RecipientError
}

// Config 控制摘要长度与未知收件人策略。
type Config struct {
	PreviewLength           int
	AcceptUnknownRecipients bool
}

// Pipeline 是投递流程，可被多个 SMTP 会话并发调用。
type Pipeline struct {
	messages  storage.MessageRepository
	mailboxes storage.MailboxRepository
	parser    parser.Parser
	cfg       Config

	newID    func() string
	now      func() time.Time
	notifier notify.Notifier
	workers  *pool.WorkerPool
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// Option 配置 Pipeline。
type Option func(*Pipeline)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator 替换邮件 ID 生成器
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithNotifier 设置新邮件通知，workers 为空时同步通知
func WithNotifier(n notify.Notifier, workers *pool.WorkerPool) Option {
	return func(p *Pipeline) {
		p.notifier = n
		p.workers = workers
	}
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New 创建投递流程
func New(messages storage.MessageRepository, mailboxes storage.MailboxRepository, mp parser.Parser, cfg Config, opts ...Option) *Pipeline {
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = defaultPreviewLength
	}
	p := &Pipeline{
		messages:  messages,
		mailboxes: mailboxes,
		parser:    mp,
		cfg:       cfg,
		newID:     idgen.NewMessageID,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("intake")
	return p
}

// Accepts 判断收件人是否会被接收，SMTP 层在 RCPT 阶段调用。
func (p *Pipeline) Accepts(address string) error {
	if !domain.IsRoutable(address) {
		return fmt.Errorf("%q: %w", address, domain.ErrInvalidFormat)
	}
	if !p.cfg.AcceptUnknownRecipients && p.mailboxes.IsAvailable(address) {
		return fmt.Errorf("%s: %w", domain.NormalizeAddress(address), domain.ErrMailboxNotFound)
	}
	return nil
}

// Receive 解析原始邮件并投递。解析失败或 ctx 取消时返回 ErrParseFailed，且不修改存储。
func (p *Pipeline) Receive(ctx context.Context, env Envelope, r io.Reader) (*Result, error) {
	s := p.open(&env)
	s.to(StateReceiving)

	start := time.Now()
	parsed, err := p.parser.Parse(ctx, r)
	p.metrics.RecordParseDuration(time.Since(start))
	if err == nil {
		// 解析器读完后才发现取消，同样按失败处理
		err = ctx.Err()
	}
	if err != nil {
		s.to(StateParseFailed)
		s.log.Warn("failed to parse inbound message", zap.Error(err))
		p.metrics.RecordError("parse", "intake")
		s.to(StateClosed)
		return nil, fmt.Errorf("session %s: %w: %w", s.id, ErrParseFailed, err)
	}
	s.to(StateParsed)

	return p.deliver(ctx, s, env, parsed)
}

// Deliver 投递已经解析好的邮件。
func (p *Pipeline) Deliver(ctx context.Context, env Envelope, parsed *parser.Parsed) (*Result, error) {
	s := p.open(&env)
	if parsed == nil {
		s.to(StateClosed)
		return nil, fmt.Errorf("session %s: nil message: %w", s.id, ErrParseFailed)
	}
	s.to(StateParsed)
	return p.deliver(ctx, s, env, parsed)
}

func (p *Pipeline) open(env *Envelope) *session {
	if env.SessionID == "" {
		env.SessionID = uuid.NewString()
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = p.now()
	}
	return newSession(env.SessionID, p.log, p.metrics)
}

func (p *Pipeline) deliver(ctx context.Context, s *session, env Envelope, parsed *parser.Parsed) (*Result, error) {
	result := &Result{}

	accepted := p.route(env.Recipients, result)
	if len(accepted) == 0 {
		s.to(StateClosed)
		s.log.Warn("no deliverable recipients", zap.Strings("recipients", env.Recipients))
		return result, fmt.Errorf("session %s: %w", s.id, ErrNoRecipients)
	}

	msg := p.buildMessage(env, parsed, accepted)
	if err := p.messages.Insert(msg); err != nil {
		s.to(StateClosed)
		p.metrics.RecordError("insert", "intake")
		return result, fmt.Errorf("session %s: store message: %w", s.id, err)
	}
	result.MessageID = msg.ID
	p.metrics.RecordMessageReceived()
	for _, att := range msg.Attachments {
		p.metrics.RecordAttachmentSize(att.ContentType, att.Size)
	}

	preview := domain.Preview{
		MessageID: msg.ID,
		From:      msg.From,
		Subject:   msg.Subject,
		Date:      msg.Date,
		Preview:   truncate(msg.Text, p.cfg.PreviewLength),
	}

	// 每个收件人独立追加，一个失败不影响其他收件人
	for _, rcpt := range accepted {
		created, err := p.appendPreview(rcpt, preview)
		if err != nil {
			result.Failed = append(result.Failed, RecipientError{Address: rcpt, Err: err})
			p.metrics.RecordDeliveryFailure()
			s.log.Error("failed to deliver to recipient", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		if created {
			result.Created = append(result.Created, rcpt)
			p.metrics.RecordMailboxCreated("inbound")
		}
		result.Delivered = append(result.Delivered, rcpt)
		p.dispatch(ctx, notify.Event{
			Address:   rcpt,
			MessageID: preview.MessageID,
			From:      preview.From,
			Subject:   preview.Subject,
			Date:      preview.Date,
			Preview:   preview.Preview,
		})
	}

	s.to(StateRouted)
	s.log.Info("message delivered",
		zap.String("id", msg.ID),
		zap.String("subject", msg.Subject),
		zap.Strings("delivered", result.Delivered),
		zap.Int("failed", len(result.Failed)),
	)
	s.to(StateClosed)
	return result, nil
}

// route 规范化并去重收件人，不合法或被策略拒绝的记入 Failed。
func (p *Pipeline) route(recipients []string, result *Result) []string {
	seen := make(map[string]struct{}, len(recipients))
	accepted := make([]string, 0, len(recipients))
	for _, raw := range recipients {
		addr := domain.NormalizeAddress(raw)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		if err := p.Accepts(addr); err != nil {
			result.Failed = append(result.Failed, RecipientError{Address: addr, Err: err})
			p.metrics.RecordDeliveryFailure()
			continue
		}
		accepted = append(accepted, addr)
	}
	return accepted
}

func (p *Pipeline) buildMessage(env Envelope, parsed *parser.Parsed, recipients []string) domain.Message {
	from := strings.TrimSpace(parsed.From)
	if from == "" {
		from = domain.NormalizeAddress(env.From)
	}
	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		subject = domain.DefaultSubject
	}
	date := parsed.Date
	if date.IsZero() {
		date = env.ReceivedAt
	}
	text := parsed.Text
	if text == "" {
		text = parser.HTMLToText(parsed.HTML)
	}
	attachments := make([]domain.Attachment, len(parsed.Attachments))
	copy(attachments, parsed.Attachments)

	return domain.Message{
		ID:          p.newID(),
		From:        from,
		To:          recipients,
		Subject:     subject,
		Text:        text,
		HTML:        parsed.HTML,
		Date:        date,
		Attachments: attachments,
	}
}

// appendPreview 把存储层的 panic 转成错误，保证单个收件人的失败不会中断整批投递。
func (p *Pipeline) appendPreview(rcpt string, preview domain.Preview) (created bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordPanic()
			err = fmt.Errorf("append preview: %v", r)
		}
	}()
	return p.mailboxes.AppendPreview(rcpt, preview), nil
}

func (p *Pipeline) dispatch(ctx context.Context, event notify.Event) {
	if p.notifier == nil {
		return
	}
	task := func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := p.notifier.Notify(nctx, event); err != nil {
			var nerr *notify.Error
			name := p.notifier.Name()
			if errors.As(err, &nerr) {
				name = nerr.Notifier
			}
			p.metrics.RecordNotificationFailed(name)
			p.log.Warn("new mail notification failed", zap.String("address", event.Address), zap.Error(err))
		}
	}
	if p.workers == nil {
		task()
		return
	}
	if !p.workers.TrySubmit(task) {
		p.metrics.RecordNotificationDropped()
		p.log.Warn("notification queue full, event dropped", zap.String("address", event.Address))
	}
}

// truncate 按字符截取前 n 个字符。
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
