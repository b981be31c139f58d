package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

// RabbitAnalysisQueue реализует очередь задач на RabbitMQ с ручным подтверждением.
type RabbitAnalysisQueue struct {
	conn  *amqp.Connection
	queue string

	pubMu sync.Mutex
	pub   *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

var _ domain.AnalysisQueue = (*RabbitAnalysisQueue)(nil)

// NewRabbitAnalysisQueue подключается к брокеру и объявляет durable очередь.
func NewRabbitAnalysisQueue(amqpURL, queue string) (*RabbitAnalysisQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitAnalysisQueue{conn: conn, queue: queue, pub: ch}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitAnalysisQueue) Enqueue(ctx context.Context, msg domain.AnalysisJobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.JobID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующую задачу. Подтверждение выполняется через AckFunc.
func (q *RabbitAnalysisQueue) Receive(ctx context.Context) (domain.AnalysisJobMessage, domain.AckFunc, error) {
	q.consumeOnce.Do(q.startConsumer)
	if q.consumeErr != nil {
		return domain.AnalysisJobMessage{}, nil, q.consumeErr
	}
	select {
	case <-ctx.Done():
		return domain.AnalysisJobMessage{}, nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return domain.AnalysisJobMessage{}, nil, errors.New("rabbitmq: delivery channel closed")
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		var msg domain.AnalysisJobMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			_ = d.Ack(false)
			return domain.AnalysisJobMessage{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return msg, ack, nil
	}
}

func (q *RabbitAnalysisQueue) startConsumer() {
	ch, err := q.conn.Channel()
	if err != nil {
		q.consumeErr = fmt.Errorf("open consumer channel: %w", err)
		return
	}
	if err := ch.Qos(1, 0, false); err != nil {
		q.consumeErr = fmt.Errorf("set qos: %w", err)
		return
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		q.consumeErr = fmt.Errorf("consume: %w", err)
		return
	}
	q.deliveries = deliveries
}

// Close закрывает соединение с брокером.
func (q *RabbitAnalysisQueue) Close() error {
	return q.conn.Close()
}
