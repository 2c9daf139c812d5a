package parser

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

const sniffLen = 3072

// sniffContentType 在声明类型缺失或为通用二进制时，按内容猜测附件类型。
func sniffContentType(declared string, head []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(head) == 0 {
		return "application/octet-stream"
	}
	if kind, err := filetype.Match(head); err == nil && kind != types.Unknown {
		return kind.MIME.Value
	}
	detected := mimetype.Detect(head).String()
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	return detected
}
