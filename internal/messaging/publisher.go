package messaging

import (
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/config"
	"example.com/backstage/services/orderbot/internal/models"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Event publisher backends
const (
	BackendNone       = "none"
	BackendServiceBus = "servicebus"
	BackendKafka      = "kafka"
)

// EventPublisher publishes order events
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
	Close() error
}

// NewEventPublisher creates the publisher selected by cfg.Events.Backend. It
// returns nil for the "none" backend.
func NewEventPublisher(cfg config.Config) (EventPublisher, error) {
	switch strings.ToLower(cfg.Events.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendServiceBus:
		publisher, err := NewServiceBusPublisher(cfg.Azure)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case BackendKafka:
		publisher, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, errors.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

// ServiceBusPublisher sends order events to an Azure Service Bus queue
type ServiceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewServiceBusPublisher creates a sender for the events queue
func NewServiceBusPublisher(cfg config.AzureConfig) (*ServiceBusPublisher, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("azure service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus client")
	}

	sender, err := client.NewSender(cfg.EventsQueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create service bus sender")
	}

	return &ServiceBusPublisher{client: client, sender: sender, queueName: cfg.EventsQueueName}, nil
}

// PublishOrderEvent sends one event message
func (p *ServiceBusPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order event")
	}

	messageID := event.EventID
	msg := &azservicebus.Message{
		Body:      data,
		MessageID: &messageID,
		ApplicationProperties: map[string]interface{}{
			"source":     "orderbot",
			"event_type": event.EventType,
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send event to %s", p.queueName)
	}
	return nil
}

// Close closes the sender and the client
func (p *ServiceBusPublisher) Close() error {
	if p.sender != nil {
		if err := p.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

// KafkaPublisher writes order events to a Kafka topic keyed by tracking code
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a writer for the configured topic
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	if len(brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

// PublishOrderEvent writes one event message
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TrackingCode),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to write event to kafka")
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
