package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Exchange string

type Queue string

type RoutingKey string

const (
	ExchangeExecutions Exchange = "workflow.executions"

	QueueExecutionsCreated Queue = "executions.created"

	RoutingKeyExecutionCreated RoutingKey = "execution.created"
)

// SetupTopology declares the exchange and queue the execution engine consumes
// from. Declarations are idempotent, so every scheduler process runs it.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(
			string(ExchangeExecutions), // name
			"topic",                    // type
			true,                       // durable
			false,                      // auto-deleted
			false,                      // internal
			false,                      // no-wait
			nil,                        // arguments
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeExecutions, err)
		}

		if _, err := ch.QueueDeclare(
			string(QueueExecutionsCreated), // name
			true,                           // durable
			false,                          // delete when unused
			false,                          // exclusive
			false,                          // no-wait
			nil,                            // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueExecutionsCreated, err)
		}

		if err := ch.QueueBind(
			string(QueueExecutionsCreated),
			string(RoutingKeyExecutionCreated),
			string(ExchangeExecutions),
			false,
			nil,
		); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueExecutionsCreated, ExchangeExecutions, err)
		}
		return nil
	})
}
