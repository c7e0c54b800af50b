package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
)

type MessageType string

const MessageTypeExecutionCreated MessageType = "execution.created"

type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type ExecutionCreatedPayload struct {
	ScheduleID domain.ScheduleID `json:"schedule_id"`
	RunPath    string            `json:"run_path"`
	NodeID     string            `json:"node_id"`
}

// Publisher implements scheduler.Notifier over RabbitMQ.
type Publisher struct {
	conn   *Connection
	nodeID string
	logger *slog.Logger
}

func NewPublisher(conn *Connection, nodeID string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		nodeID: nodeID,
		logger: logger.With("component", "publisher"),
	}
}

func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.DebugContext(ctx, "published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

func (p *Publisher) ExecutionCreated(ctx context.Context, id domain.ScheduleID, runPath string) error {
	return p.Publish(ctx, ExchangeExecutions, RoutingKeyExecutionCreated,
		NewExecutionCreatedMessage(id, runPath, p.nodeID, time.Now()))
}

func NewExecutionCreatedMessage(id domain.ScheduleID, runPath, nodeID string, now time.Time) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Type: MessageTypeExecutionCreated,
		Payload: ExecutionCreatedPayload{
			ScheduleID: id,
			RunPath:    runPath,
			NodeID:     nodeID,
		},
		Timestamp: now.UTC(),
	}
}
