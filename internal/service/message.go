package service

import (
	"tempmail/disposable/internal/domain"
	"tempmail/disposable/internal/storage"
)

// MessageService 封装邮件读取逻辑。
type MessageService struct {
	repo storage.MessageRepository
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(repo storage.MessageRepository) *MessageService {
	return &MessageService{repo: repo}
}

// Get 读取完整邮件。
//
// 邮件过期后邮箱里的摘要可能仍然存在，此时返回 ErrMessageNotFound，
// 由调用方改用摘要中缓存的字段展示。
func (s *MessageService) Get(id string) (domain.Message, error) {
	return s.repo.Fetch(id)
}

// Count 返回当前邮件数量
func (s *MessageService) Count() int {
	return s.repo.Count()
}
