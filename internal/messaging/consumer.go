package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrConsumerClosed возвращается, когда брокер закрыл канал доставок.
var ErrConsumerClosed = errors.New("consumer channel closed by broker")

// ConsumerConfig описывает подписку на очередь задач.
type ConsumerConfig struct {
	Queue    string
	Name     string
	Prefetch int
}

// Delivery - часть amqp091.Delivery, которую подтверждает консьюмер.
type Delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consume читает очередь задач с ручными ack, пока не отменён ctx или не
// закрылся канал. nil означает, что закончился ctx.
func Consume(ctx context.Context, conn *amqp091.Connection, cfg ConsumerConfig, handler *Handler, logger *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for consumer: %w", err)
	}
	defer ch.Close()

	q, err := DeclareTaskQueue(ch, cfg.Queue)
	if err != nil {
		return err
	}
	logger.Info("Task queue declared", zap.String("queue", q.Name), zap.Int("messages", q.Messages), zap.Int("consumers", q.Consumers))

	if err := ch.Qos(max(cfg.Prefetch, 1), 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		cfg.Name,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer on %s: %w", q.Name, err)
	}
	logger.Info("Consumer started, waiting for messages...")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return ErrConsumerClosed
			}
			logger.Debug("Received a message", zap.Uint64("delivery_tag", msg.DeliveryTag))
			settle(&msg, handler.HandleDelivery(ctx, msg), logger)
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping consumer...")
			return nil
		}
	}
}

func settle(d Delivery, disposition Disposition, logger *zap.Logger) {
	var err error
	switch disposition {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		logger.Error("Failed to settle message", zap.Int("disposition", int(disposition)), zap.Error(err))
	}
}
