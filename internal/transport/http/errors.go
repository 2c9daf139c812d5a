package httptransport

import (
	"errors"
	"net/http"

	"tempmail/disposable/internal/domain"
)

// errorMapping 业务错误到 HTTP 状态码与中文消息的映射
type errorMapping struct {
	err    error
	status int
	msg    string
}

// 按顺序匹配，errors.Is 命中第一条即返回
var errorTable = []errorMapping{
	{domain.ErrInvalidFormat, http.StatusBadRequest, "邮箱前缀格式无效，只允许 3-30 位字母、数字、点、下划线和连字符"},
	{domain.ErrDomainNotAllowed, http.StatusBadRequest, "域名不在允许列表中"},
	{domain.ErrAddressExists, http.StatusConflict, "邮箱地址已被使用"},
	{domain.ErrMailboxNotFound, http.StatusNotFound, "邮箱不存在"},
	{domain.ErrMessageNotFound, http.StatusNotFound, "邮件不存在或已过期"},
	{domain.ErrGenerateFailed, http.StatusServiceUnavailable, "生成邮箱地址失败，请重试"},
}

// lookupError 返回错误对应的状态码与消息，未知错误返回 500
func lookupError(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"

	MsgMailboxCreated = "邮箱创建成功"
	MsgMailboxDeleted = "所有邮件已删除"

	MsgNotStarted    = "服务尚未就绪"
	MsgInternalError = "服务器内部错误，请稍后重试"
)
