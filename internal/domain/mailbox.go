package domain

import (
	"time"
)

// Preview 是邮箱内的一条邮件摘要，投递后不再修改。
type Preview struct {
	MessageID string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Preview   string    `json:"preview"`
}

// MailboxInfo 描述一个邮箱的元数据快照。
type MailboxInfo struct {
	Address      string    `json:"address"`
	CreatedAt    time.Time `json:"createdAt"`
	PreviewCount int       `json:"count"`
}

// Inbox 是收件箱列表接口返回的视图。
type Inbox struct {
	Address   string     `json:"address"`
	Emails    []Preview  `json:"emails"`
	Count     int        `json:"count"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Stats 是存储层的计数快照。
type Stats struct {
	MessageCount int `json:"totalEmails"`
	MailboxCount int `json:"activeMailboxes"`
}
