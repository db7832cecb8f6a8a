package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AutoAgent/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 消息镜像的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// amqpChannel 是发布消息所需的最小 channel 能力。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 持有共享的连接，并为每次运行派生 Sink。
// 事件以 topic 交换机发布，routing key 为 run.<runID>.<op>。
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// NewRabbitMQPublisher 建立连接并声明交换机。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "autoagent.messages"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func newRabbitMQPublisherWithChannel(ch amqpChannel, exchange string) *RabbitMQPublisher {
	return &RabbitMQPublisher{ch: ch, exchange: exchange}
}

// ForRun 返回绑定到指定运行的 Sink。
func (p *RabbitMQPublisher) ForRun(runID string) Sink {
	return &rabbitMQSink{publisher: p, runID: runID}
}

func (p *RabbitMQPublisher) publish(ctx context.Context, runID string, op Op, msg Message) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 发布器未初始化")
	}
	body, err := encodeEnvelope(runID, op, msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "构建消息事件失败")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(runID, op), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "RabbitMQ 发布消息失败")
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey 返回事件的 routing key。
func RoutingKey(runID string, op Op) string {
	return "run." + runID + "." + string(op)
}

type rabbitMQSink struct {
	publisher *RabbitMQPublisher
	runID     string
}

func (s *rabbitMQSink) Send(ctx context.Context, msg Message) error {
	return s.publisher.publish(ctx, s.runID, OpSend, msg)
}

func (s *rabbitMQSink) Update(ctx context.Context, msg Message) error {
	return s.publisher.publish(ctx, s.runID, OpUpdate, msg)
}

func (s *rabbitMQSink) SendError(ctx context.Context, reason string) error {
	return s.Send(ctx, Error(reason))
}
