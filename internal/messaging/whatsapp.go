package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/config"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Messenger sends outbound chat messages
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to, caption, mediaURL string) error
}

// WhatsAppClient sends messages through the Meta WhatsApp Cloud API
type WhatsAppClient struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// NewWhatsAppClient creates a Cloud API client for the configured phone number
func NewWhatsAppClient(cfg config.WhatsAppConfig) (*WhatsAppClient, error) {
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, errors.New("whatsapp phone number id and access token are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WhatsAppClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.APIURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		token:      cfg.AccessToken,
	}, nil
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type outboundMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *mediaBody `json:"image,omitempty"`
	Video            *mediaBody `json:"video,omitempty"`
	Audio            *mediaBody `json:"audio,omitempty"`
	Document         *mediaBody `json:"document,omitempty"`
}

// SendText sends a plain text message
func (c *WhatsAppClient) SendText(ctx context.Context, to, body string) error {
	return c.send(ctx, outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

// SendMedia sends a media message; the media kind follows the URL's extension
func (c *WhatsAppClient) SendMedia(ctx context.Context, to, caption, mediaURL string) error {
	msg := outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             MediaType(mediaURL),
	}

	media := &mediaBody{Link: mediaURL, Caption: caption}
	switch msg.Type {
	case "video":
		msg.Video = media
	case "audio":
		// Audio messages carry no caption
		media.Caption = ""
		msg.Audio = media
	case "document":
		media.Filename = path.Base(strings.SplitN(mediaURL, "?", 2)[0])
		msg.Document = media
	default:
		msg.Image = media
	}

	if err := c.send(ctx, msg); err != nil {
		return err
	}
	if msg.Type == "audio" && caption != "" {
		return c.SendText(ctx, to, caption)
	}
	return nil
}

// MediaType maps a media URL to a Cloud API message type
func MediaType(mediaURL string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(mediaURL, "?", 2)[0]))
	switch ext {
	case ".mp4", ".3gp":
		return "video"
	case ".mp3", ".ogg", ".aac", ".amr", ".m4a":
		return "audio"
	case ".pdf", ".doc", ".docx", ".xls", ".xlsx", ".txt":
		return "document"
	default:
		return "image"
	}
}

func (c *WhatsAppClient) send(ctx context.Context, msg outboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal whatsapp message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to build whatsapp request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send whatsapp message")
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return errors.Errorf("whatsapp api returned %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	log.Debug().Str("to", msg.To).Str("type", msg.Type).Msg("WhatsApp message sent")
	return nil
}

// LogMessenger writes outbound messages to the log; used when no Cloud API
// credentials are configured
type LogMessenger struct{}

// SendText logs a text message
func (LogMessenger) SendText(ctx context.Context, to, body string) error {
	log.Info().Str("to", to).Str("body", body).Msg("Outbound message")
	return nil
}

// SendMedia logs a media message
func (LogMessenger) SendMedia(ctx context.Context, to, caption, mediaURL string) error {
	log.Info().Str("to", to).Str("caption", caption).Str("media_url", mediaURL).Msg("Outbound media message")
	return nil
}
