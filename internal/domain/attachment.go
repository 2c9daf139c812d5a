package domain

// Attachment 只保留附件元数据，正文不落存储。
type Attachment struct {
	Filename    string `json:"filename"`    // 文件名
	ContentType string `json:"contentType"` // MIME类型
	Size        int64  `json:"size"`        // 大小（字节）
}
