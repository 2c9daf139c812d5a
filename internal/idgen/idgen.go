// Package idgen 生成邮件 ID 与随机邮箱前缀。
package idgen

import (
	crand "crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

const (
	DefaultLocalPartLength = 10
	MinLocalPartLength     = 6
	MaxLocalPartLength     = 32
)

// Generator 生成按时间有序的 ULID，可并发使用。
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
	now  func() time.Time
}

// New 创建生成器，now 为空时使用 time.Now。
func New(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		mono: ulid.Monotonic(crand.Reader, 0),
		now:  now,
	}
}

// MessageID 返回一个新的邮件 ID：毫秒时间戳加单调递增的随机后缀。
func (g *Generator) MessageID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := ulid.Timestamp(g.now())
	id, err := ulid.New(ts, g.mono)
	if err != nil {
		// 同一毫秒内熵溢出，换一个新的单调源重试
		g.mono = ulid.Monotonic(crand.Reader, 0)
		id = ulid.MustNew(ts, g.mono)
	}
	return id.String()
}

var defaultGenerator = New(nil)

// NewMessageID 使用包级生成器生成邮件 ID。
func NewMessageID() string {
	return defaultGenerator.MessageID()
}

const localPartAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// 大于等于该值的随机字节丢弃，保证 36 个字符等概率
const rejectAbove = 256 - 256%len(localPartAlphabet)

// NewLocalPart 返回指定长度的 base36 前缀（小写字母与数字），唯一性由调用方校验。
func NewLocalPart(length int) string {
	if length < MinLocalPartLength || length > MaxLocalPartLength {
		length = DefaultLocalPartLength
	}
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := io.ReadFull(crand.Reader, buf); err != nil {
			panic("idgen: crypto/rand unavailable: " + err.Error())
		}
		for _, c := range buf {
			if int(c) >= rejectAbove {
				continue
			}
			out = append(out, localPartAlphabet[int(c)%len(localPartAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out)
}
