package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"CitizenChain/internal/monitor"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultRabbitQueue = "citizenchain.snapshots"

// amqpPublisher 是 RabbitMQSink 用到的 channel 子集，*amqp.Channel 满足该接口。
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQConfig 描述 RabbitMQ 的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// RabbitMQSink 将快照以持久化消息投递到队列。
type RabbitMQSink struct {
	ch       amqpPublisher
	exchange string
	key      string
	closers  []func() error
}

// DialRabbitMQ 连接 RabbitMQ 并声明持久化队列。
func DialRabbitMQ(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultRabbitQueue
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
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(queue, queue, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
		}
	}

	s := NewRabbitMQSink(ch, cfg.Exchange, queue)
	s.closers = []func() error{ch.Close, conn.Close}
	return s, nil
}

// NewRabbitMQSink 基于已打开的 channel 创建 sink。exchange 为空时使用默认交换机，key 即队列名。
func NewRabbitMQSink(ch amqpPublisher, exchange, key string) *RabbitMQSink {
	if key == "" {
		key = defaultRabbitQueue
	}
	return &RabbitMQSink{ch: ch, exchange: exchange, key: key}
}

// Name 实现 Sink。
func (s *RabbitMQSink) Name() string { return "rabbitmq" }

// Record 发布快照消息，MessageId 为随机 UUID。
func (s *RabbitMQSink) Record(ctx context.Context, snapshot monitor.TokenSnapshot) error {
	if s == nil || s.ch == nil {
		return errors.New("RabbitMQ sink 未初始化")
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    snapshot.ObservedAt,
		Type:         "token_snapshot",
		AppId:        "citizen-monitor",
		Body:         body,
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, s.key, false, false, msg); err != nil {
		return fmt.Errorf("RabbitMQ 发布快照失败: %w", err)
	}
	return nil
}

// Close 关闭 channel 与连接。
func (s *RabbitMQSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
