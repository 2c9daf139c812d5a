package domain

import "errors"

// 业务错误定义，调用方使用 errors.Is 判断。
var (
	ErrInvalidFormat    = errors.New("invalid address format")
	ErrAddressExists    = errors.New("address already exists")
	ErrMailboxNotFound  = errors.New("mailbox not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMessageExists    = errors.New("message already exists")
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrGenerateFailed   = errors.New("failed to generate unique address")
)
