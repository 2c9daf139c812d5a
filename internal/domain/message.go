package domain

import "time"

// Message 表示一封已解析的完整邮件，写入后不可变。
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	HTML        string       `json:"html,omitempty"`
	Date        time.Time    `json:"date"`
	Attachments []Attachment `json:"attachments"`
}

// Clone 返回邮件的深拷贝，调用方可随意修改副本。
func (m Message) Clone() Message {
	out := m
	// 空切片保持非 nil，JSON 输出为 [] 而不是 null
	if m.To != nil {
		out.To = make([]string, len(m.To))
		copy(out.To, m.To)
	}
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		copy(out.Attachments, m.Attachments)
	}
	return out
}

// DefaultSubject 是缺少主题时使用的占位。
const DefaultSubject = "(No Subject)"
