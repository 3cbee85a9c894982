// Package proxy wires the pool scheduler, conversation binder, translator,
// and token lifecycle worker to the public HTTP surface: narrow per-route
// functions on a shared Handlers struct.
package proxy

import (
	"net/http"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/binder"
	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/eternisai/chatgpt-pool-gateway/internal/lifecycle"
	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/eternisai/chatgpt-pool-gateway/internal/scheduler"
	"github.com/eternisai/chatgpt-pool-gateway/internal/translate"
	"github.com/eternisai/chatgpt-pool-gateway/internal/upstream"
	"github.com/gin-gonic/gin"
)

// Handlers bundles every component the public routes depend on.
type Handlers struct {
	Scheduler       *scheduler.Scheduler
	Binder          *binder.Binder
	Lifecycle       *lifecycle.Worker
	Log             *logger.Logger
	WaitTimeout     time.Duration
	UpstreamTimeout time.Duration
}

// Register mounts every public and admin route.
func (h *Handlers) Register(router *gin.Engine, requireAuth gin.HandlerFunc) {
	router.GET("/ping", h.ping)
	router.GET("/healthz", h.healthz)
	router.OPTIONS("/v1/chat/completions", h.preflight)

	authorized := router.Group("/")
	authorized.Use(requireAuth)
	authorized.POST("/v1/chat/completions", h.chatCompletions)
	authorized.POST("/v1/chat/prompt", h.chatPrompt)
	authorized.POST("/admin/add_bot", h.addBot)
	authorized.GET("/admin/conversations/:openid", h.getChatInfo)
	authorized.POST("/admin/conversations/:openid/new_chat", h.newChat)
}

func (h *Handlers) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "*")
	c.Header("Access-Control-Allow-Headers", "*")
	c.Status(http.StatusNoContent)
}

// chatCompletions implements POST /v1/chat/completions: translate, drive
// the scheduler's stateless multiplex path, translate the result back.
func (h *Handlers) chatCompletions(c *gin.Context) {
	var req translate.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		boterrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	op, err := translate.ToUpstream(req, "", "", true, true)
	if err != nil {
		boterrors.AbortWithBadRequest(c, "failed to translate request", map[string]interface{}{"error": err.Error()})
		return
	}
	op.Timeout = h.UpstreamTimeout

	ctx := c.Request.Context()
	event, err := h.Scheduler.Work(ctx, op, "", h.WaitTimeout)
	if err != nil {
		h.abortScheduler(c, err)
		return
	}

	if event.Message == "" {
		boterrors.AbortWithNotFound(c, "No response found", nil)
		return
	}

	finishReason := translate.FinishReasonFromDetails(event.FinishDetails)
	c.JSON(http.StatusOK, translate.NewCompletion(req.Model, event.Message, finishReason))
}

// promptRequest is the body of POST /v1/chat/prompt.
type promptRequest struct {
	Content string `json:"content" binding:"required"`
	Model   string `json:"model"`
	OpenID  string `json:"openid"`
	NewChat bool   `json:"new_chat"`
}

func (h *Handlers) chatPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		boterrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	model := req.Model
	if model == "" {
		model = "text-davinci-002-render-sha"
	}

	ctx := c.Request.Context()

	var text string
	var err error
	if req.OpenID != "" {
		text, err = h.Scheduler.Prompt(ctx, h.Binder, req.OpenID, req.Content, model, req.NewChat, true, h.WaitTimeout, h.UpstreamTimeout)
	} else {
		op := upstream.AskOp{Prompt: req.Content, Model: model, AutoContinue: true, Timeout: h.UpstreamTimeout}
		text, err = h.Scheduler.APIRequest(ctx, op, h.WaitTimeout)
	}

	if err != nil {
		h.abortScheduler(c, err)
		return
	}
	if text == "" {
		boterrors.AbortWithNotFound(c, "No response found", nil)
		return
	}

	if c.GetHeader("Accept") == "application/json" {
		c.JSON(http.StatusOK, gin.H{"content": text})
		return
	}
	c.String(http.StatusOK, text)
}

// addBotRequest is the body of POST /admin/add_bot.
type addBotRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) addBot(c *gin.Context) {
	var req addBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		boterrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := h.Lifecycle.AddAccount(c.Request.Context(), req.Email, req.Password); err != nil {
		boterrors.AbortWithInternal(c, "failed to add account", map[string]interface{}{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"email": req.Email, "status": "queued"})
}

func (h *Handlers) getChatInfo(c *gin.Context) {
	openid := c.Param("openid")
	info, err := h.Binder.GetChatInfo(c.Request.Context(), openid)
	if err != nil {
		boterrors.AbortWithInternal(c, "failed to resolve chat info", map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":           info.Email,
		"conversation_id": info.ConversationID,
		"parent_id":       info.ParentID,
	})
}

func (h *Handlers) newChat(c *gin.Context) {
	openid := c.Param("openid")
	if err := h.Binder.NewConversation(c.Request.Context(), openid); err != nil {
		boterrors.AbortWithInternal(c, "failed to reset conversation", map[string]interface{}{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"openid": openid, "status": "reset"})
}

// abortScheduler renders a scheduler/upstream error at the public edge:
// BotError kinds map through AbortWithBotError's status table, anything
// else is a generic 500.
func (h *Handlers) abortScheduler(c *gin.Context, err error) {
	if be, ok := boterrors.AsBotError(err); ok {
		boterrors.AbortWithBotError(c, be)
		return
	}
	boterrors.AbortWithInternal(c, "scheduler error", map[string]interface{}{"error": err.Error()})
}
