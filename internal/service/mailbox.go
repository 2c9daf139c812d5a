package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tempmail/disposable/internal/config"
	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/idgen"
	"tempmail/disposable/internal/monitoring"
	"tempmail/disposable/internal/storage"
)

// maxGenerateAttempts 随机地址碰撞时的最大重试次数
const maxGenerateAttempts = 5

// MailboxService 封装邮箱相关业务操作。
type MailboxService struct {
	repo            storage.MailboxRepository
	domains         []string
	domainSet       map[string]struct{}
	retention       time.Duration
	localPartLength int
	newLocalPart    func(length int) string
	metrics         *monitoring.Metrics
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(repo storage.MailboxRepository, cfg config.MailboxConfig, metrics *monitoring.Metrics) *MailboxService {
	domainSet := make(map[string]struct{}, len(cfg.Domains))
	domains := make([]string, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if _, dup := domainSet[d]; dup || d == "" {
			continue
		}
		domainSet[d] = struct{}{}
		domains = append(domains, d)
	}

	return &MailboxService{
		repo:            repo,
		domains:         domains,
		domainSet:       domainSet,
		retention:       cfg.Retention,
		localPartLength: cfg.LocalPartLength,
		newLocalPart:    idgen.NewLocalPart,
		metrics:         metrics,
	}
}

// Domains 返回服务的域名，第一个为默认域名。
func (s *MailboxService) Domains() []string {
	return append([]string(nil), s.domains...)
}

// Retention 返回保留时长
func (s *MailboxService) Retention() time.Duration {
	return s.retention
}

// CreateRandom 生成随机地址并注册，碰撞时重新生成。
func (s *MailboxService) CreateRandom(requestedDomain string) (string, error) {
	selected, err := s.pickDomain(requestedDomain)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		address := domain.JoinAddress(s.newLocalPart(s.localPartLength), selected)
		err := s.repo.Register(address)
		if err == nil {
			s.metrics.RecordMailboxCreated("random")
			return address, nil
		}
		if !errors.Is(err, domain.ErrAddressExists) {
			return "", err
		}
	}
	return "", domain.ErrGenerateFailed
}

// CreateCustom 使用指定前缀注册邮箱，前缀必须匹配 ^[a-zA-Z0-9._-]{3,30}$。
func (s *MailboxService) CreateCustom(localPart, requestedDomain string) (string, error) {
	if err := domain.ValidateLocalPart(localPart); err != nil {
		return "", err
	}
	selected, err := s.pickDomain(requestedDomain)
	if err != nil {
		return "", err
	}

	address := domain.JoinAddress(localPart, selected)
	if err := s.repo.Register(address); err != nil {
		return "", err
	}
	s.metrics.RecordMailboxCreated("custom")
	return address, nil
}

// CheckAvailability 检查前缀在指定域名下是否可用。
func (s *MailboxService) CheckAvailability(localPart, requestedDomain string) (bool, error) {
	if err := domain.ValidateLocalPart(localPart); err != nil {
		return false, err
	}
	selected, err := s.pickDomain(requestedDomain)
	if err != nil {
		return false, err
	}
	return s.repo.IsAvailable(domain.JoinAddress(localPart, selected)), nil
}

// List 返回收件箱摘要，邮箱不存在时返回空列表。
func (s *MailboxService) List(address string) []domain.Preview {
	return s.repo.List(address)
}

// Inbox 返回收件箱摘要以及过期时间。
func (s *MailboxService) Inbox(address string) domain.Inbox {
	address = domain.NormalizeAddress(address)
	inbox := domain.Inbox{
		Address: address,
		Emails:  s.repo.List(address),
	}
	inbox.Count = len(inbox.Emails)

	if info, ok := s.repo.Lookup(address); ok {
		created := info.CreatedAt
		expires := domain.ExpiresAt(created, s.retention)
		inbox.CreatedAt = &created
		inbox.ExpiresAt = &expires
	}
	return inbox
}

// Delete 删除邮箱及其摘要，可重复调用。
func (s *MailboxService) Delete(address string) {
	if s.repo.Remove(address) {
		s.metrics.RecordMailboxDeleted()
	}
}

// Count 返回当前邮箱数量
func (s *MailboxService) Count() int {
	return s.repo.Count()
}

// pickDomain 挑选合法的邮箱域名，空值使用默认域名。
func (s *MailboxService) pickDomain(requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		if len(s.domains) == 0 {
			return "", domain.ErrDomainNotAllowed
		}
		return s.domains[0], nil
	}
	if _, ok := s.domainSet[requested]; ok {
		return requested, nil
	}
	return "", fmt.Errorf("%s: %w", requested, domain.ErrDomainNotAllowed)
}
