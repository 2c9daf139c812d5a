package storage

import (
	"time"

	"tempmail/disposable/internal/domain"
)

// MessageRepository 定义完整邮件的存取操作。邮件只写一次，没有更新接口。
type MessageRepository interface {
	Insert(message domain.Message) error
	Fetch(id string) (domain.Message, error)
	EvictOlderThan(cutoff time.Time) int
	Count() int
}

// MailboxRepository 定义邮箱目录的存取操作，地址在内部统一规范化。
type MailboxRepository interface {
	Register(address string) error
	EnsureExists(address string) bool
	AppendPreview(address string, preview domain.Preview) bool
	List(address string) []domain.Preview
	Lookup(address string) (domain.MailboxInfo, bool)
	IsAvailable(address string) bool
	Remove(address string) bool
	EvictOlderThan(cutoff time.Time) int
	Count() int
}
