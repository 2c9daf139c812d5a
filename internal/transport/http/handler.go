package httptransport

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tempmail/disposable/internal/app"
	"tempmail/disposable/internal/domain"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	app *app.App
}

// NewHandler 创建处理器
func NewHandler(a *app.App) *Handler {
	return &Handler{app: a}
}

type generateResponse struct {
	Email     string `json:"email"`
	ExpiresIn string `json:"expiresIn"`
}

type createRequest struct {
	Username string `json:"username" binding:"required"`
	Domain   string `json:"domain"`
}

type checkResponse struct {
	Email     string `json:"email"`
	Available bool   `json:"available"`
}

type statsResponse struct {
	Stats  app.Stats    `json:"stats"`
	Config configDetail `json:"config"`
}

type configDetail struct {
	Domain         string   `json:"domain"`
	Domains        []string `json:"domains"`
	RetentionHours int      `json:"retentionHours"`
	MaxEmailSize   int64    `json:"maxEmailSize"`
}

// generate 生成随机邮箱
// GET /api/generate?domain=
func (h *Handler) generate(c *gin.Context) {
	address, err := h.app.CreateRandomAddress(c.Query("domain"))
	if err != nil {
		FromError(c, err)
		return
	}

	SuccessWithMsg(c, MsgMailboxCreated, generateResponse{
		Email:     address,
		ExpiresIn: fmt.Sprintf("%d 小时", h.retentionHours()),
	})
}

// create 使用自定义前缀创建邮箱
// POST /api/create
func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	address, err := h.app.CreateCustomAddress(strings.TrimSpace(req.Username), req.Domain)
	if err != nil {
		FromError(c, err)
		return
	}

	CreatedWithMsg(c, MsgMailboxCreated, generateResponse{
		Email:     address,
		ExpiresIn: fmt.Sprintf("%d 小时", h.retentionHours()),
	})
}

// check 检查前缀是否可用
// GET /api/check/:username/:domain
func (h *Handler) check(c *gin.Context) {
	username, domainName := c.Param("username"), c.Param("domain")
	available, err := h.app.CheckAvailability(username, domainName)
	if err != nil {
		FromError(c, err)
		return
	}

	Success(c, checkResponse{
		Email:     domain.JoinAddress(username, domainName),
		Available: available,
	})
}

// inbox 获取收件箱
// GET /api/emails/:address
func (h *Handler) inbox(c *gin.Context) {
	Success(c, h.app.Inbox(c.Param("address")))
}

// deleteInbox 删除收件箱
// DELETE /api/emails/:address
func (h *Handler) deleteInbox(c *gin.Context) {
	h.app.DeleteInbox(c.Param("address"))
	SuccessWithMsg(c, MsgMailboxDeleted, nil)
}

// readMessage 读取邮件
// GET /api/email/:id
func (h *Handler) readMessage(c *gin.Context) {
	msg, err := h.app.ReadMessage(c.Param("id"))
	if err != nil {
		FromError(c, err)
		return
	}
	Success(c, msg)
}

// stats 统计信息与运行配置
// GET /api/stats
func (h *Handler) stats(c *gin.Context) {
	cfg := h.app.Config()
	Success(c, statsResponse{
		Stats: h.app.Stats(),
		Config: configDetail{
			Domain:         cfg.Mailbox.DefaultDomain(),
			Domains:        cfg.Mailbox.Domains,
			RetentionHours: h.retentionHours(),
			MaxEmailSize:   cfg.SMTP.MaxMessageBytes,
		},
	})
}

// config 可用域名与保留时长
// GET /api/config
func (h *Handler) config(c *gin.Context) {
	cfg := h.app.Config()
	Success(c, gin.H{
		"domains":        cfg.Mailbox.Domains,
		"defaultDomain":  cfg.Mailbox.DefaultDomain(),
		"retentionHours": h.retentionHours(),
	})
}

// health 汇总健康状态
// GET /health
func (h *Handler) health(c *gin.Context) {
	hc := h.app.Health()
	if hc == nil {
		Error(c, http.StatusServiceUnavailable, MsgNotStarted)
		return
	}
	status := http.StatusOK
	if !hc.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, hc.CheckHealth())
}

// healthLive 存活检查
func (h *Handler) healthLive(c *gin.Context) {
	if hc := h.app.Health(); hc != nil {
		hc.LiveHandler()(c.Writer, c.Request)
		return
	}
	c.String(http.StatusOK, "{}")
}

// healthReady 就绪检查
func (h *Handler) healthReady(c *gin.Context) {
	if hc := h.app.Health(); hc != nil {
		hc.ReadyHandler()(c.Writer, c.Request)
		return
	}
	Error(c, http.StatusServiceUnavailable, MsgNotStarted)
}

func (h *Handler) retentionHours() int {
	return int(h.app.Config().Mailbox.Retention / time.Hour)
}
