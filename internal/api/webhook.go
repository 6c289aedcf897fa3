package api

import (
	"context"
	"example.com/backstage/services/orderbot/internal/messaging"
	"example.com/backstage/services/orderbot/internal/tracing"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Forwarder queues inbound messages for the worker
type Forwarder interface {
	Forward(ctx context.Context, msg messaging.InboundMessage) error
}

// WebhookHandler receives the WhatsApp Cloud API webhook
type WebhookHandler struct {
	verifyToken string
	handler     messaging.InboundHandler
	forwarder   Forwarder
	tracer      tracing.Tracer
	timeout     time.Duration
}

// NewWebhookHandler creates a webhook handler. Messages go to forwarder when it
// is set and are otherwise dispatched in the background through handler.
func NewWebhookHandler(verifyToken string, handler messaging.InboundHandler, forwarder Forwarder, tracer tracing.Tracer, timeout time.Duration) *WebhookHandler {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		handler:     handler,
		forwarder:   forwarder,
		tracer:      tracer,
		timeout:     timeout,
	}
}

// WebhookPayload is the notification body Meta posts for a business account
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups the changes of one business account
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is one change notification
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries the received messages and their senders' profiles
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
}

// WebhookContact is a sender profile
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one received message
type WebhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button,omitempty"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

// Inbound flattens the payload into inbound messages
func (p WebhookPayload) Inbound() []messaging.InboundMessage {
	var out []messaging.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, m := range change.Value.Messages {
				out = append(out, m.inbound(names[m.From]))
			}
		}
	}
	return out
}

func (m WebhookMessage) inbound(name string) messaging.InboundMessage {
	msg := messaging.InboundMessage{
		MessageID: m.ID,
		From:      m.From,
		Name:      name,
		Type:      m.Type,
		Timestamp: time.Now().UTC(),
	}
	if seconds, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		msg.Timestamp = time.Unix(seconds, 0).UTC()
	}

	// Button and list replies are read as the text of the chosen option
	switch {
	case m.Text != nil:
		msg.Body = m.Text.Body
	case m.Button != nil:
		msg.Type = "text"
		msg.Body = m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		msg.Type = "text"
		msg.Body = m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		msg.Type = "text"
		msg.Body = m.Interactive.ListReply.Title
	}
	return msg
}

// HandleVerify answers the subscription handshake
func (h *WebhookHandler) HandleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		log.Warn().Str("mode", mode).Msg("Webhook verification rejected")
		writeError(c, ErrForbidden)
		return
	}

	c.String(http.StatusOK, challenge)
}

// HandleNotification accepts message notifications. It always answers 200 so
// Meta does not redeliver; failures are logged.
func (h *WebhookHandler) HandleNotification(c *gin.Context) {
	txn := h.tracer.StartTransaction("webhook-notification")
	defer h.tracer.EndTransaction(txn)

	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn().Err(err).Msg("Invalid webhook body")
		h.tracer.RecordError(txn, err)
		c.Status(http.StatusOK)
		return
	}

	messages := payload.Inbound()
	h.tracer.AddAttribute(txn, "messages", len(messages))

	for _, msg := range messages {
		if h.forwarder != nil {
			if err := h.forwarder.Forward(c.Request.Context(), msg); err != nil {
				log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to forward inbound message, handling inline")
				h.tracer.RecordError(txn, err)
				h.dispatch(msg)
			}
			continue
		}
		h.dispatch(msg)
	}

	c.Status(http.StatusOK)
}

func (h *WebhookHandler) dispatch(msg messaging.InboundMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		if err := h.handler.HandleInbound(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.MessageID).
				Str("from", msg.From).
				Msg("Failed to handle inbound message")
		}
	}()
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/webhook", h.HandleVerify)
	router.POST("/webhook", h.HandleNotification)
}
