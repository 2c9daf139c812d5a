package smtp

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/disposable/internal/config"
	"tempmail/disposable/internal/intake"
	"tempmail/disposable/internal/parser"
	"tempmail/disposable/internal/storage/memory"
)

type fixture struct {
	messages  *memory.MessageStore
	mailboxes *memory.MailboxStore
	backend   *Backend
}

func newFixture(t *testing.T, smtpCfg config.SMTPConfig, acceptUnknown bool) *fixture {
	t.Helper()
	f := &fixture{
		messages:  memory.NewMessageStore(nil),
		mailboxes: memory.NewMailboxStore(nil),
	}
	p := intake.New(f.messages, f.mailboxes, parser.New(0), intake.Config{AcceptUnknownRecipients: acceptUnknown})
	f.backend = NewBackend(p, smtpCfg, []string{"temp.mail"}, nil, nil)
	t.Cleanup(f.backend.Close)
	return f
}

func newSession(t *testing.T, b *Backend) *session {
	t.Helper()
	s, err := b.NewSession(nil)
	require.NoError(t, err)
	return s.(*session)
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "expected SMTP error, got %v", err)
	return smtpErr.Code
}

const sample = "From: Bob <bob@x.org>\r\nTo: alice@temp.mail\r\nSubject: Hi\r\n" +
	"Content-Type: text/plain\r\n\r\nhello alice\r\n"

func TestSession_DeliversMessage(t *testing.T) {
	f := newFixture(t, config.SMTPConfig{}, true)
	s := newSession(t, f.backend)

	require.NoError(t, s.Mail("bob@x.org", nil))
	require.NoError(t, s.Rcpt("<Alice@Temp.Mail>", nil))
	require.NoError(t, s.Data(strings.NewReader(sample)))
	require.NoError(t, s.Logout())

	list := f.mailboxes.List("alice@temp.mail")
	require.Len(t, list, 1)
	assert.Equal(t, "Hi", list[0].Subject)
	assert.Equal(t, "Bob <bob@x.org>", list[0].From)

	msg, err := f.messages.Fetch(list[0].MessageID)
	require.NoError(t, err)
	assert.Equal(t, "hello alice\r\n", msg.Text)
}

func TestSession_RcptPolicy(t *testing.T) {
	t.Run("地址不合法返回 501", func(t *testing.T) {
		f := newFixture(t, config.SMTPConfig{}, true)
		s := newSession(t, f.backend)
		assert.Equal(t, 501, smtpCode(t, s.Rcpt("not-an-address", nil)))
	})

	t.Run("限制域名时拒绝中继", func(t *testing.T) {
		f := newFixture(t, config.SMTPConfig{RestrictDomains: true}, true)
		s := newSession(t, f.backend)
		assert.Equal(t, 550, smtpCode(t, s.Rcpt("victim@elsewhere.com", nil)))
		assert.NoError(t, s.Rcpt("anyone@temp.mail", nil))
	})

	t.Run("不接收未知收件人", func(t *testing.T) {
		f := newFixture(t, config.SMTPConfig{}, false)
		require.NoError(t, f.mailboxes.Register("known@temp.mail"))
		s := newSession(t, f.backend)

		assert.Equal(t, 550, smtpCode(t, s.Rcpt("stranger@temp.mail", nil)))
		assert.NoError(t, s.Rcpt("known@temp.mail", nil))
		assert.True(t, f.mailboxes.IsAvailable("stranger@temp.mail"))
	})
}

func TestSession_DataErrors(t *testing.T) {
	t.Run("没有收件人返回 554", func(t *testing.T) {
		f := newFixture(t, config.SMTPConfig{}, true)
		s := newSession(t, f.backend)
		assert.Equal(t, 554, smtpCode(t, s.Data(strings.NewReader(sample))))
	})

	t.Run("解析失败返回 451 且不写入", func(t *testing.T) {
		f := newFixture(t, config.SMTPConfig{}, true)
		s := newSession(t, f.backend)
		require.NoError(t, s.Rcpt("alice@temp.mail", nil))

		err := s.Data(strings.NewReader("garbage without header separator\r\n\r\n"))
		assert.Equal(t, 451, smtpCode(t, err))
		assert.Equal(t, 0, f.messages.Count())
		assert.Equal(t, 0, f.mailboxes.Count())
	})

	t.Run("关闭后正在进行的会话失败", func(t *testing.T) {
		f := newFixture(t, config.SMTPConfig{}, true)
		s := newSession(t, f.backend)
		require.NoError(t, s.Rcpt("alice@temp.mail", nil))

		f.backend.Close()
		assert.Equal(t, 451, smtpCode(t, s.Data(strings.NewReader(sample))))
		assert.Equal(t, 0, f.messages.Count())
	})
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t, config.SMTPConfig{}, true)
	s := newSession(t, f.backend)
	require.NoError(t, s.Mail("a@b.c", nil))
	require.NoError(t, s.Rcpt("x@temp.mail", nil))

	s.Reset()
	assert.Empty(t, s.from)
	assert.Empty(t, s.recipients)
}

func TestBackend_ConnectionLimit(t *testing.T) {
	f := newFixture(t, config.SMTPConfig{MaxConns: 1}, true)

	first := newSession(t, f.backend)
	_, err := f.backend.NewSession(nil)
	assert.Equal(t, 421, smtpCode(t, err))
	assert.Equal(t, 1, f.backend.ActiveSessions())

	require.NoError(t, first.Logout())
	require.NoError(t, first.Logout(), "重复 Logout 只释放一次")
	assert.Equal(t, 0, f.backend.ActiveSessions())

	second := newSession(t, f.backend)
	assert.NoError(t, second.Logout())
}

func TestConnectionLimiter_Rate(t *testing.T) {
	l := NewConnectionLimiter(0, 2)
	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire(), "突发额度用完")
	assert.Equal(t, 2, l.Current())

	l.Release()
	l.Release()
	l.Release()
	assert.Equal(t, 0, l.Current())
}

func TestServer_EndToEnd(t *testing.T) {
	f := newFixture(t, config.SMTPConfig{}, true)
	srv := NewServer(f.backend, config.SMTPConfig{
		Domain:          "temp.mail",
		MaxMessageBytes: 1 << 20,
		MaxRecipients:   10,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	c, err := gosmtp.Dial(l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	err = c.SendMail("bob@x.org", []string{"alice@temp.mail", "carol@temp.mail"}, strings.NewReader(sample))
	require.NoError(t, err)
	require.NoError(t, c.Quit())

	assert.Eventually(t, func() bool {
		return len(f.mailboxes.List("alice@temp.mail")) == 1 &&
			len(f.mailboxes.List("carol@temp.mail")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.messages.Count())
}

func TestServer_RejectsOversizedMessage(t *testing.T) {
	f := newFixture(t, config.SMTPConfig{}, true)
	srv := NewServer(f.backend, config.SMTPConfig{
		Domain:          "temp.mail",
		MaxMessageBytes: 200,
		MaxRecipients:   10,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	c, err := gosmtp.Dial(l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	body := "From: bob@x.org\r\nSubject: Big\r\n\r\n" + strings.Repeat("0123456789abcdef\r\n", 300)
	err = c.SendMail("bob@x.org", []string{"alice@temp.mail"}, strings.NewReader(body))
	assert.Equal(t, 552, smtpCode(t, err), "超长邮件返回永久错误")
	assert.Equal(t, 0, f.messages.Count())
	assert.Empty(t, f.mailboxes.List("alice@temp.mail"))
}

func TestSession_DataReaderKeepsProtocolError(t *testing.T) {
	f := newFixture(t, config.SMTPConfig{}, true)
	s := newSession(t, f.backend)
	require.NoError(t, s.Rcpt("alice@temp.mail", nil))

	r := io.MultiReader(strings.NewReader("Subject: x\r\n\r\nhello"), errReader{gosmtp.ErrDataTooLarge})
	assert.Equal(t, 552, smtpCode(t, s.Data(r)))
	assert.Equal(t, 0, f.messages.Count())
}

// errReader 读取时总是返回指定错误
type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
