package api

import (
	"context"
	"example.com/backstage/services/orderbot/internal/chat"
	"example.com/backstage/services/orderbot/internal/messaging"
	"example.com/backstage/services/orderbot/internal/utils"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FlowTrigger starts named chat flows
type FlowTrigger interface {
	Trigger(ctx context.Context, flow, number, name string) error
}

// NumberBlocker maintains the ignored numbers
type NumberBlocker interface {
	Add(ctx context.Context, number string) error
	Remove(ctx context.Context, number string) error
}

// AdminHandler serves the outbound side-channel used by other systems
type AdminHandler struct {
	messenger messaging.Messenger
	trigger   FlowTrigger
	blacklist NumberBlocker
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(messenger messaging.Messenger, trigger FlowTrigger, blacklist NumberBlocker) *AdminHandler {
	return &AdminHandler{
		messenger: messenger,
		trigger:   trigger,
		blacklist: blacklist,
	}
}

// SendMessageRequest sends free text, optionally with media
type SendMessageRequest struct {
	Number   string `json:"number" validate:"required,phone"`
	Message  string `json:"message" validate:"required_without=URLMedia"`
	URLMedia string `json:"urlMedia" validate:"omitempty,url"`
}

// FlowRequest starts a flow for a number
type FlowRequest struct {
	Number string `json:"number" validate:"required,phone"`
	Name   string `json:"name" validate:"max=100"`
}

// BlacklistRequest adds or removes a number
type BlacklistRequest struct {
	Number string `json:"number" validate:"required,phone"`
	Intent string `json:"intent" validate:"required,oneof=add remove"`
}

// bind decodes and validates a JSON body into req
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, NewValidationError("invalid JSON body"))
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		writeError(c, NewValidationError(validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return "invalid " + fe.Field() + ": failed " + fe.Tag()
	}
	return err.Error()
}

// HandleSendMessage sends a message through the messenger
func (h *AdminHandler) HandleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !bind(c, &req) {
		return
	}

	number := utils.NormalizePhone(req.Number)
	var err error
	if req.URLMedia != "" {
		err = h.messenger.SendMedia(c.Request.Context(), number, req.Message, req.URLMedia)
	} else {
		err = h.messenger.SendText(c.Request.Context(), number, req.Message)
	}
	if err != nil {
		log.Error().Err(err).Str("number", number).Msg("Failed to send admin message")
		writeError(c, NewError("failed to send message", http.StatusBadGateway, "SEND_FAILED"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *AdminHandler) handleFlow(flow string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req FlowRequest
		if !bind(c, &req) {
			return
		}

		if err := h.trigger.Trigger(c.Request.Context(), flow, req.Number, req.Name); err != nil {
			writeError(c, errors.Wrapf(err, "failed to trigger %s", flow))
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "triggered", "flow": flow})
	}
}

// HandleBlacklist adds or removes a number from the blacklist
func (h *AdminHandler) HandleBlacklist(c *gin.Context) {
	var req BlacklistRequest
	if !bind(c, &req) {
		return
	}

	var err error
	if req.Intent == "add" {
		err = h.blacklist.Add(c.Request.Context(), req.Number)
	} else {
		err = h.blacklist.Remove(c.Request.Context(), req.Number)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "number": utils.NormalizePhone(req.Number), "intent": req.Intent})
}

// RegisterRoutes registers the admin routes
func (h *AdminHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	v1.POST("/messages", h.HandleSendMessage)
	v1.POST("/register", h.handleFlow(chat.FlowRegister))
	v1.POST("/samples", h.handleFlow(chat.FlowSamples))
	v1.POST("/blacklist", h.HandleBlacklist)
}
