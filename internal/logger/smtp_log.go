package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SMTPErrorLog 把 go-smtp 的 Printf/Println 日志转到 zap。
type SMTPErrorLog struct {
	log *zap.Logger
}

// NewSMTPErrorLog 创建 SMTP 日志适配器
func NewSMTPErrorLog(log *zap.Logger) *SMTPErrorLog {
	return &SMTPErrorLog{log: log.WithOptions(zap.AddCallerSkip(1))}
}

func (l *SMTPErrorLog) Printf(format string, v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *SMTPErrorLog) Println(v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}
