package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// 验证常量
const (
	MinLocalPartLength = 3
	MaxLocalPartLength = 30
	MaxDomainLength    = 253 // 域名最大长度
)

var (
	// 自定义地址的本地部分
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,30}$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// NormalizeAddress 去掉空白与尖括号并转为小写，所有存储键都经过它。
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitAddress 把地址拆成本地部分与域名，地址会先被规范化。
func SplitAddress(address string) (localPart, domain string, err error) {
	address = NormalizeAddress(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", fmt.Errorf("%q: %w", address, ErrInvalidFormat)
	}
	return address[:at], address[at+1:], nil
}

// JoinAddress 拼接并规范化完整地址。
func JoinAddress(localPart, domain string) string {
	return NormalizeAddress(localPart + "@" + domain)
}

// ValidateLocalPart 校验自定义地址的本地部分。
func ValidateLocalPart(localPart string) error {
	if !localPartRegex.MatchString(localPart) {
		return fmt.Errorf("local part %q: %w", localPart, ErrInvalidFormat)
	}
	return nil
}

// ValidateDomain 验证域名
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > MaxDomainLength || !domainRegex.MatchString(domain) {
		return fmt.Errorf("domain %q: %w", domain, ErrInvalidFormat)
	}
	return nil
}

// IsRoutable 判断收件人是否是可投递的语法地址，不做任何黑名单检查。
func IsRoutable(address string) bool {
	local, domain, err := SplitAddress(address)
	if err != nil {
		return false
	}
	return !strings.ContainsAny(local, " \t\r\n") && ValidateDomain(domain) == nil
}
