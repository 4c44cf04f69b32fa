package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TaskPublisher ставит в очередь задачи на изображения страниц. Несколько
// задач отправляются одним пакетным сообщением.
type TaskPublisher interface {
	PublishPageImageTasks(ctx context.Context, tasks ...PageImageTask) error
}

// RabbitMQPublisher публикует персистентные JSON сообщения в durable очередь
// через exchange по умолчанию.
type RabbitMQPublisher struct {
	ch     *amqp091.Channel
	queue  string
	logger *zap.Logger
	mu     sync.Mutex
}

var _ TaskPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher открывает канал на conn и объявляет очередь задач.
// Переподключение остаётся на вызывающем.
func NewRabbitMQPublisher(conn *amqp091.Connection, queue string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if conn == nil {
		return nil, errors.New("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for publisher: %w", err)
	}
	if _, err := DeclareTaskQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQPublisher{
		ch:     ch,
		queue:  queue,
		logger: logger.Named("RabbitMQPublisher"),
	}, nil
}

// DeclareTaskQueue объявляет durable очередь задач на изображения страниц.
func DeclareTaskQueue(ch *amqp091.Channel, queue string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return q, fmt.Errorf("failed to declare task queue %s: %w", queue, err)
	}
	return q, nil
}

// PublishPageImageTasks отправляет одно сообщение для одной задачи или
// пакетное сообщение для нескольких.
func (p *RabbitMQPublisher) PublishPageImageTasks(ctx context.Context, tasks ...PageImageTask) error {
	if len(tasks) == 0 {
		return nil
	}
	correlationID := tasks[0].TaskID
	var payload any = tasks[0]
	if len(tasks) > 1 {
		batch := PageImageTaskBatch{BatchID: uuid.NewString(), Tasks: tasks}
		correlationID = batch.BatchID
		payload = batch
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("publisher channel is closed")
	}
	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			Body:          body,
			DeliveryMode:  amqp091.Persistent,
			Timestamp:     time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish page image tasks: %w", err)
	}
	p.logger.Debug("Page image tasks published", zap.String("correlation_id", correlationID), zap.Int("tasks", len(tasks)))
	return nil
}

// Close закрывает канал.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		err := p.ch.Close()
		p.ch = nil
		return err
	}
	return nil
}
