package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/monitoring"
	"tempmail/disposable/internal/notify"
	"tempmail/disposable/internal/parser"
	"tempmail/disposable/internal/storage/memory"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

const longBody = "Hello there, this is a longer body used to test preview truncation. " +
	"It keeps going well past one hundred characters so the preview has to cut it."

type fixture struct {
	messages  *memory.MessageStore
	mailboxes *memory.MailboxStore
	pipeline  *Pipeline
}

func newFixture(cfg Config, opts ...Option) *fixture {
	now := func() time.Time { return t0 }
	f := &fixture{
		messages:  memory.NewMessageStore(now),
		mailboxes: memory.NewMailboxStore(now),
	}
	opts = append([]Option{WithClock(now)}, opts...)
	f.pipeline = New(f.messages, f.mailboxes, parser.New(0), cfg, opts...)
	return f
}

func rawMail(from, to, subject, body string) string {
	return strings.ReplaceAll("From: "+from+"\nTo: "+to+"\nSubject: "+subject+
		"\nContent-Type: text/plain; charset=utf-8\n\n"+body, "\n", "\r\n")
}

func TestReceive_PreviewTruncation(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})
	require.NoError(t, f.mailboxes.Register("alice@domain"))

	res, err := f.pipeline.Receive(context.Background(),
		Envelope{From: "bob@x", Recipients: []string{"alice@domain"}},
		strings.NewReader(rawMail("bob@x", "alice@domain", "Hi", longBody)))
	require.NoError(t, err)
	require.NotEmpty(t, res.MessageID)
	assert.Equal(t, []string{"alice@domain"}, res.Delivered)
	assert.Empty(t, res.Created, "已注册的邮箱不会重复创建")

	list := f.mailboxes.List("alice@domain")
	require.Len(t, list, 1)
	assert.Equal(t, "Hi", list[0].Subject)
	assert.Equal(t, "bob@x", list[0].From)
	assert.Equal(t, longBody[:100], list[0].Preview)
	assert.Equal(t, res.MessageID, list[0].MessageID)

	msg, err := f.messages.Fetch(res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, longBody, msg.Text, "完整正文不截断")
	assert.Equal(t, []string{"alice@domain"}, msg.To)
	assert.Equal(t, t0, msg.Date, "没有 Date 头时使用接收时间")
}

func TestReceive_HTMLOnlyPreview(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true, PreviewLength: 100})
	raw := strings.ReplaceAll("From: shop@x\nSubject: Code\nContent-Type: text/html; charset=utf-8\n\n"+
		"<p>Hello there, your code is 1234</p>\n", "\n", "\r\n")

	res, err := f.pipeline.Receive(context.Background(),
		Envelope{From: "shop@x", Recipients: []string{"alice@domain"}}, strings.NewReader(raw))
	require.NoError(t, err)

	list := f.mailboxes.List("alice@domain")
	require.Len(t, list, 1)
	assert.Equal(t, "Hello there, your code is 1234", list[0].Preview)

	msg, err := f.messages.Fetch(res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "Hello there, your code is 1234", msg.Text)
	assert.Contains(t, msg.HTML, "<p>")
}

func TestDeliver_HTMLOnlyPreview(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true, PreviewLength: 100})

	_, err := f.pipeline.Deliver(context.Background(),
		Envelope{From: "shop@x", Recipients: []string{"alice@domain"}},
		&parser.Parsed{HTML: "<div>Your&nbsp;order</div><div>shipped</div>"})
	require.NoError(t, err)

	list := f.mailboxes.List("alice@domain")
	require.Len(t, list, 1)
	assert.Equal(t, "Your order\nshipped", list[0].Preview, "不换行空格按空白合并")
}

func TestDeliver_FanOutToDistinctRecipients(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})
	parsed := &parser.Parsed{From: "bob@x", Subject: "Team", Text: "shared body"}

	res, err := f.pipeline.Deliver(context.Background(), Envelope{
		From:       "bob@x",
		Recipients: []string{"a@x", "B@x", "c@x", "A@X", "<b@x>"},
	}, parsed)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x", "b@x", "c@x"}, res.Delivered, "收件人去重并规范化")
	assert.Equal(t, []string{"a@x", "b@x", "c@x"}, res.Created, "未知收件人自动创建邮箱")
	assert.Empty(t, res.Failed)

	for _, rcpt := range res.Delivered {
		list := f.mailboxes.List(rcpt)
		require.Len(t, list, 1, rcpt)
		assert.Equal(t, res.MessageID, list[0].MessageID)
	}
	assert.Equal(t, 1, f.messages.Count(), "多个收件人共享同一封邮件")

	msg, err := f.messages.Fetch(res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "shared body", msg.Text)
	assert.Equal(t, "Team", msg.Subject)
}

func TestDeliver_Defaults(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})
	date := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := f.pipeline.Deliver(context.Background(),
		Envelope{From: "<Envelope@Sender>", Recipients: []string{"x@y"}},
		&parser.Parsed{Date: date})
	require.NoError(t, err)

	msg, err := f.messages.Fetch(res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "envelope@sender", msg.From, "缺少 From 头时使用信封发件人")
	assert.Equal(t, domain.DefaultSubject, msg.Subject)
	assert.Equal(t, date, msg.Date)
	assert.NotNil(t, msg.Attachments)
}

func TestReceive_ParseFailureLeavesStoresUntouched(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})

	_, err := f.pipeline.Receive(context.Background(),
		Envelope{Recipients: []string{"a@x"}},
		strings.NewReader("garbage without header separator\r\n\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseFailed)
	assert.ErrorIs(t, err, parser.ErrMalformed)

	assert.Equal(t, 0, f.messages.Count())
	assert.Equal(t, 0, f.mailboxes.Count())
}

func TestReceive_CancelledParse(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Receive(ctx, Envelope{Recipients: []string{"a@x"}},
		strings.NewReader(rawMail("b@x", "a@x", "s", "body")))
	assert.ErrorIs(t, err, ErrParseFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.messages.Count())
	assert.Equal(t, 0, f.mailboxes.Count())
}

func TestDeliver_RejectUnknownRecipients(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: false})
	require.NoError(t, f.mailboxes.Register("known@x"))

	assert.NoError(t, f.pipeline.Accepts("KNOWN@x"))
	assert.ErrorIs(t, f.pipeline.Accepts("stranger@x"), domain.ErrMailboxNotFound)

	res, err := f.pipeline.Deliver(context.Background(),
		Envelope{Recipients: []string{"known@x", "stranger@x"}},
		&parser.Parsed{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"known@x"}, res.Delivered)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "stranger@x", res.Failed[0].Address)
	assert.True(t, f.mailboxes.IsAvailable("stranger@x"))
}

func TestDeliver_NoDeliverableRecipients(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})

	res, err := f.pipeline.Deliver(context.Background(),
		Envelope{Recipients: []string{"not-an-address", ""}},
		&parser.Parsed{Text: "hi"})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Len(t, res.Failed, 2)
	assert.Equal(t, 0, f.messages.Count())
}

// flakyMailboxes 对指定地址的追加操作 panic，模拟目录写入失败。
type flakyMailboxes struct {
	*memory.MailboxStore
	broken string
}

func (f *flakyMailboxes) AppendPreview(address string, preview domain.Preview) bool {
	if domain.NormalizeAddress(address) == f.broken {
		panic("directory write failed")
	}
	return f.MailboxStore.AppendPreview(address, preview)
}

func TestDeliver_PartialFailureDoesNotStopOthers(t *testing.T) {
	now := func() time.Time { return t0 }
	messages := memory.NewMessageStore(now)
	mailboxes := &flakyMailboxes{MailboxStore: memory.NewMailboxStore(now), broken: "b@x"}
	metrics := monitoring.NewMetrics(nil)
	p := New(messages, mailboxes, parser.New(0), Config{AcceptUnknownRecipients: true}, WithMetrics(metrics))

	res, err := p.Deliver(context.Background(),
		Envelope{Recipients: []string{"a@x", "b@x", "c@x"}},
		&parser.Parsed{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a@x", "c@x"}, res.Delivered)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "b@x", res.Failed[0].Address)
	assert.Len(t, mailboxes.List("a@x"), 1)
	assert.Len(t, mailboxes.List("c@x"), 1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Notify(ctx context.Context, event notify.Event) error {
	return m.Called(event).Error(0)
}

func TestDeliver_NotifiesEachRecipient(t *testing.T) {
	n := &mockNotifier{}
	n.On("Notify", mock.MatchedBy(func(e notify.Event) bool { return e.Address == "a@x" })).Return(nil).Once()
	n.On("Notify", mock.MatchedBy(func(e notify.Event) bool { return e.Address == "b@x" })).Return(errors.New("down")).Once()

	f := newFixture(Config{AcceptUnknownRecipients: true}, WithNotifier(n, nil))
	res, err := f.pipeline.Deliver(context.Background(),
		Envelope{Recipients: []string{"a@x", "b@x"}},
		&parser.Parsed{Subject: "s", Text: "t"})
	require.NoError(t, err, "通知失败不影响投递")
	assert.Len(t, res.Delivered, 2)
	n.AssertExpectations(t)
}

func TestDeliver_ConcurrentSessions(t *testing.T) {
	f := newFixture(Config{AcceptUnknownRecipients: true})
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Deliver(context.Background(),
				Envelope{Recipients: []string{"shared@x"}},
				&parser.Parsed{Text: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.mailboxes.List("shared@x"), n)
	assert.Equal(t, n, f.messages.Count())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", truncate("abc", 0))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "你好", truncate("你好世界", 2), "按字符而不是字节截取")
}

func TestSessionTransitions(t *testing.T) {
	assert.True(t, allowed(StateOpened, StateReceiving))
	assert.True(t, allowed(StateReceiving, StateParseFailed))
	assert.True(t, allowed(StateParseFailed, StateClosed))
	assert.False(t, allowed(StateParseFailed, StateRouted))
	assert.False(t, allowed(StateClosed, StateOpened))
}
