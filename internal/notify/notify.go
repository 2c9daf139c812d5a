// Package notify 把新邮件事件推送给订阅方。
package notify

import (
	"context"
	"errors"
	"time"
)

// Event 表示某个地址收到了一封新邮件。
type Event struct {
	Address   string    `json:"address"`
	MessageID string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Preview   string    `json:"preview"`
}

// Notifier 是新邮件事件的接收方。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Multi 依次调用多个通知方，失败不会中断后续通知方。
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

// Notify 返回所有失败的合并错误。
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, &Error{Notifier: n.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Error 记录是哪个通知方失败。
type Error struct {
	Notifier string
	Err      error
}

func (e *Error) Error() string { return e.Notifier + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Name() string                         { return "nop" }
func (Nop) Notify(context.Context, Event) error { return nil }
