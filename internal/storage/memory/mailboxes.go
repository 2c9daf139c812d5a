package memory

import (
	"fmt"
	"sync"
	"time"

	"tempmail/disposable/internal/domain"
)

type mailboxEntry struct {
	createdAt time.Time
	previews  []domain.Preview
}

// MailboxStore 保存地址到邮件摘要列表的映射。
// 摘要只追加不修改，所有写操作在同一把写锁下完成，并发投递不会丢失条目。
type MailboxStore struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailboxEntry
	now       func() time.Time
}

// NewMailboxStore 创建邮箱目录，now 为空时使用 time.Now。
func NewMailboxStore(now func() time.Time) *MailboxStore {
	if now == nil {
		now = time.Now
	}
	return &MailboxStore{
		mailboxes: make(map[string]*mailboxEntry),
		now:       now,
	}
}

// Register 创建空邮箱，地址已存在时返回 ErrAddressExists 且不覆盖。
func (s *MailboxStore) Register(address string) error {
	key := domain.NormalizeAddress(address)
	if key == "" {
		return fmt.Errorf("register mailbox: %w", domain.ErrInvalidFormat)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[key]; ok {
		return fmt.Errorf("register mailbox %s: %w", key, domain.ErrAddressExists)
	}
	s.mailboxes[key] = &mailboxEntry{createdAt: s.now()}
	return nil
}

// EnsureExists 在邮箱不存在时创建它，返回是否新建。
func (s *MailboxStore) EnsureExists(address string) bool {
	key := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, created := s.ensureLocked(key)
	return created
}

func (s *MailboxStore) ensureLocked(key string) (*mailboxEntry, bool) {
	if entry, ok := s.mailboxes[key]; ok {
		return entry, false
	}
	entry := &mailboxEntry{createdAt: s.now()}
	s.mailboxes[key] = entry
	return entry, true
}

// AppendPreview 追加一条摘要，邮箱不存在时先创建，返回是否新建了邮箱。
func (s *MailboxStore) AppendPreview(address string, preview domain.Preview) bool {
	key := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, created := s.ensureLocked(key)
	entry.previews = append(entry.previews, preview)
	return created
}

// List 按到达顺序返回摘要副本，邮箱不存在时返回空切片。
func (s *MailboxStore) List(address string) []domain.Preview {
	key := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.mailboxes[key]
	if !ok {
		return []domain.Preview{}
	}
	out := make([]domain.Preview, len(entry.previews))
	copy(out, entry.previews)
	return out
}

// Lookup 返回邮箱元数据。
func (s *MailboxStore) Lookup(address string) (domain.MailboxInfo, bool) {
	key := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.mailboxes[key]
	if !ok {
		return domain.MailboxInfo{}, false
	}
	return domain.MailboxInfo{
		Address:      key,
		CreatedAt:    entry.createdAt,
		PreviewCount: len(entry.previews),
	}, true
}

// IsAvailable 地址当前没有邮箱时返回 true。
func (s *MailboxStore) IsAvailable(address string) bool {
	key := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mailboxes[key]
	return !ok
}

// Remove 删除邮箱及其全部摘要，可重复调用，返回是否真的删除了。
func (s *MailboxStore) Remove(address string) bool {
	key := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[key]; !ok {
		return false
	}
	delete(s.mailboxes, key)
	return true
}

// EvictOlderThan 删除创建时间不晚于 cutoff 的邮箱，返回删除数量。
func (s *MailboxStore) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.mailboxes {
		if !entry.createdAt.After(cutoff) {
			delete(s.mailboxes, key)
			count++
		}
	}
	return count
}

// Count 返回当前邮箱数量。
func (s *MailboxStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mailboxes)
}
