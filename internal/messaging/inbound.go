package messaging

import (
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/config"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// InboundMessage is one user message received from the chat channel
type InboundMessage struct {
	MessageID string    `json:"message_id"`
	From      string    `json:"from"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundHandler processes one inbound message
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// InboundForwarder queues inbound messages on a session-enabled Service Bus
// queue. The session id is the sender's number, so each conversation is
// consumed in order by a single receiver.
type InboundForwarder struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewInboundForwarder creates a sender for the inbound queue
func NewInboundForwarder(cfg config.AzureConfig) (*InboundForwarder, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("azure service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus client")
	}

	sender, err := client.NewSender(cfg.InboundQueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create service bus sender")
	}

	return &InboundForwarder{client: client, sender: sender, queueName: cfg.InboundQueueName}, nil
}

// Forward queues msg in the sender's session
func (f *InboundForwarder) Forward(ctx context.Context, msg InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal inbound message")
	}

	sessionID := msg.From
	sbMsg := &azservicebus.Message{
		Body:      data,
		SessionID: &sessionID,
	}
	if msg.MessageID != "" {
		messageID := msg.MessageID
		sbMsg.MessageID = &messageID
	}

	if err := f.sender.SendMessage(ctx, sbMsg, nil); err != nil {
		return errors.Wrapf(err, "failed to forward message to %s", f.queueName)
	}
	return nil
}

// Close closes the sender and the client
func (f *InboundForwarder) Close() error {
	if err := f.sender.Close(context.Background()); err != nil {
		return err
	}
	return f.client.Close(context.Background())
}

// DecodeInbound reads an inbound message from a Service Bus message body
func DecodeInbound(body []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, errors.Wrap(err, "failed to decode inbound message")
	}
	if msg.From == "" {
		return msg, errors.New("inbound message has no sender")
	}
	return msg, nil
}

// SessionConsumer receives inbound messages session by session
type SessionConsumer struct {
	client     *azservicebus.Client
	queueName  string
	maxWorkers int
}

// NewSessionConsumer creates a consumer for the inbound queue
func NewSessionConsumer(cfg config.AzureConfig) (*SessionConsumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("azure service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus client")
	}

	maxWorkers := cfg.MaxSessionWorkers
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	return &SessionConsumer{client: client, queueName: cfg.InboundQueueName, maxWorkers: maxWorkers}, nil
}

// Run accepts sessions until ctx is cancelled, handling at most maxWorkers
// sessions at a time
func (c *SessionConsumer) Run(ctx context.Context, handler InboundHandler) error {
	log.Info().Str("queue", c.queueName).Int("workers", c.maxWorkers).Msg("Starting inbound session consumer")

	slots := make(chan struct{}, c.maxWorkers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case slots <- struct{}{}:
		}

		receiver, err := c.client.AcceptNextSessionForQueue(ctx, c.queueName, nil)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting...")
				continue
			}
			return errors.Wrap(err, "failed to accept session")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			c.handleSession(ctx, receiver, handler)
		}()
	}
}

func (c *SessionConsumer) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver, handler InboundHandler) {
	sessionID := receiver.SessionID()
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Error closing session")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("session_id", sessionID).Msg("Error receiving session messages")
			}
			return
		}
		if len(messages) == 0 {
			return
		}

		for _, message := range messages {
			c.process(ctx, receiver, message, handler)
		}
	}
}

func (c *SessionConsumer) process(ctx context.Context, receiver *azservicebus.SessionReceiver, message *azservicebus.ReceivedMessage, handler InboundHandler) {
	inbound, err := DecodeInbound(message.Body)
	if err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Dead-lettering unreadable inbound message")
		reason := "unreadable"
		description := err.Error()
		if err := receiver.DeadLetterMessage(ctx, message, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &description,
		}); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to dead-letter message")
		}
		return
	}

	if err := handler.HandleInbound(ctx, inbound); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing inbound message")
		if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to abandon message")
		}
		return
	}

	if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
	}
}

// Close closes the Service Bus client
func (c *SessionConsumer) Close() error {
	return c.client.Close(context.Background())
}
