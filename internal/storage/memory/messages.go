package memory

import (
	"fmt"
	"sync"
	"time"

	"tempmail/disposable/internal/domain"
)

type messageEntry struct {
	message  domain.Message
	storedAt time.Time
}

// MessageStore 在内存中保存完整邮件，键为邮件 ID。
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]*messageEntry
	now      func() time.Time
}

// NewMessageStore 创建邮件存储，now 为空时使用 time.Now。
func NewMessageStore(now func() time.Time) *MessageStore {
	if now == nil {
		now = time.Now
	}
	return &MessageStore{
		messages: make(map[string]*messageEntry),
		now:      now,
	}
}

// Insert 写入邮件并记录入库时间。同一 ID 只能写入一次。
func (s *MessageStore) Insert(message domain.Message) error {
	if message.ID == "" {
		return fmt.Errorf("insert message: empty id: %w", domain.ErrInvalidFormat)
	}
	entry := &messageEntry{message: message.Clone(), storedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; ok {
		return fmt.Errorf("insert message %s: %w", message.ID, domain.ErrMessageExists)
	}
	s.messages[message.ID] = entry
	return nil
}

// Fetch 返回邮件副本。
func (s *MessageStore) Fetch(id string) (domain.Message, error) {
	s.mu.RLock()
	entry, ok := s.messages[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	// entry 写入后不再修改，可以在锁外拷贝
	return entry.message.Clone(), nil
}

// EvictOlderThan 删除入库时间不晚于 cutoff 的邮件，返回删除数量。
func (s *MessageStore) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, entry := range s.messages {
		if !entry.storedAt.After(cutoff) {
			delete(s.messages, id)
			count++
		}
	}
	return count
}

// Count 返回当前邮件数量。
func (s *MessageStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
