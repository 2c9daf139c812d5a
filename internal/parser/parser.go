// Package parser 把原始邮件字节流解析成结构化内容。
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"tempmail/disposable/internal/domain"
)

// ErrMalformed 表示邮件无法解析。
var ErrMalformed = errors.New("malformed message")

// Parsed 表示解析后的邮件内容。
type Parsed struct {
	From        string // 发件人显示串，如 `Bob <bob@x>`
	To          []string
	Subject     string
	Text        string
	HTML        string
	Date        time.Time // 没有 Date 头时为零值
	Attachments []domain.Attachment
}

// Parser 是解析器协作方。
type Parser interface {
	Parse(ctx context.Context, r io.Reader) (*Parsed, error)
}

// MIMEParser 基于 go-message 解析 MIME 邮件，附件只统计元数据。
type MIMEParser struct {
	maxTextBytes int64
}

// New 创建解析器，maxTextBytes 限制单个正文部分读入内存的大小，<=0 表示不限制。
func New(maxTextBytes int64) *MIMEParser {
	return &MIMEParser{maxTextBytes: maxTextBytes}
}

// Parse 解析邮件。ctx 取消时立即停止读取并返回错误。
func (p *MIMEParser) Parse(ctx context.Context, r io.Reader) (*Parsed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r = &ctxReader{ctx: ctx, r: r}

	mr, err := mail.CreateReader(r)
	if err != nil && !isRecoverable(err) {
		return nil, fmt.Errorf("read header: %w: %w", ErrMalformed, ctxOr(ctx, err))
	}
	defer mr.Close()

	parsed := &Parsed{Attachments: make([]domain.Attachment, 0)}
	readHeader(&mr.Header, parsed)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isRecoverable(err) {
				// 无法识别的字符集或编码只跳过该部分
				continue
			}
			return nil, fmt.Errorf("read part: %w: %w", ErrMalformed, ctxOr(ctx, err))
		}
		if err := p.readPart(part, parsed); err != nil {
			return nil, fmt.Errorf("read body: %w: %w", ErrMalformed, ctxOr(ctx, err))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parsed.Text == "" && parsed.HTML != "" {
		// 只有 HTML 正文时由 HTML 生成纯文本，摘要依赖它
		parsed.Text = HTMLToText(parsed.HTML)
	}
	return parsed, nil
}

func readHeader(h *mail.Header, parsed *Parsed) {
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = displayAddress(from[0])
	} else if raw, err := h.Text("From"); err == nil {
		parsed.From = strings.TrimSpace(raw)
	}

	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			parsed.To = append(parsed.To, domain.NormalizeAddress(addr.Address))
		}
	}

	if subject, err := h.Subject(); err == nil {
		parsed.Subject = strings.TrimSpace(subject)
	} else {
		parsed.Subject = strings.TrimSpace(h.Get("Subject"))
	}

	if date, err := h.Date(); err == nil {
		parsed.Date = date
	}
}

func (p *MIMEParser) readPart(part *mail.Part, parsed *Parsed) error {
	switch h := part.Header.(type) {
	case *mail.InlineHeader:
		mediaType, params, _ := h.ContentType()
		switch {
		case mediaType == "text/plain" || mediaType == "":
			if parsed.Text != "" {
				return p.appendAttachment(part.Body, "", mediaType, parsed)
			}
			body, err := p.readText(part.Body)
			if err != nil {
				return err
			}
			parsed.Text = body
		case mediaType == "text/html":
			if parsed.HTML != "" {
				return p.appendAttachment(part.Body, "", mediaType, parsed)
			}
			body, err := p.readText(part.Body)
			if err != nil {
				return err
			}
			parsed.HTML = body
		default:
			// 内联图片等非文本部分按附件记录
			_, dispParams, _ := h.ContentDisposition()
			name := dispParams["filename"]
			if name == "" {
				name = params["name"]
			}
			return p.appendAttachment(part.Body, name, mediaType, parsed)
		}
	case *mail.AttachmentHeader:
		name, _ := h.Filename()
		mediaType, _, _ := h.ContentType()
		return p.appendAttachment(part.Body, name, mediaType, parsed)
	}
	return nil
}

func (p *MIMEParser) readText(r io.Reader) (string, error) {
	if p.maxTextBytes > 0 {
		r = io.LimitReader(r, p.maxTextBytes)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *MIMEParser) appendAttachment(r io.Reader, filename, declared string, parsed *Parsed) error {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return err
	}
	head = head[:n]

	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return err
	}

	parsed.Attachments = append(parsed.Attachments, domain.Attachment{
		Filename:    filename,
		ContentType: sniffContentType(declared, head),
		Size:        int64(n) + rest,
	})
	return nil
}

func displayAddress(addr *mail.Address) string {
	if addr.Name == "" {
		return addr.Address
	}
	return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// ctxOr 在 ctx 已取消时优先返回取消原因。
func ctxOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// ctxReader 在 ctx 取消后拒绝继续读取。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
