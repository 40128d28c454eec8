package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"vscan/internal/config"
)

// AnalysisEvent 分析完成通知
type AnalysisEvent struct {
	AnalysisID  string    `json:"analysis_id"`
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	Kind        string    `json:"kind"`
	Detections  int       `json:"detections"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher RabbitMQ 发布器
type Publisher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	cfg       *config.RabbitMQConfig
	logger    *zap.Logger
	mu        sync.Mutex
	isClosing bool
}

// NewPublisher 创建发布器
func NewPublisher(cfg *config.RabbitMQConfig, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		cfg:    cfg,
		logger: logger,
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	// 启动重连监听
	go p.watchConnection()

	return p, nil
}

// connect 连接到 RabbitMQ
func (p *Publisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// 声明交换机
	err = channel.ExchangeDeclare(
		p.cfg.Exchange, // 交换机名称
		"direct",       // 类型
		true,           // 持久化
		false,          // 自动删除
		false,          // 内部
		false,          // 不等待
		nil,            // 参数
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// 声明队列
	_, err = channel.QueueDeclare(
		p.cfg.Queue, // 队列名称
		true,        // 持久化
		false,       // 自动删除
		false,       // 独占
		false,       // 不等待
		nil,         // 参数
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// 绑定队列到交换机
	err = channel.QueueBind(p.cfg.Queue, p.cfg.RoutingKey, p.cfg.Exchange, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	p.conn = conn
	p.channel = channel

	p.logger.Info("connected to RabbitMQ", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// closing 是否正在关闭
func (p *Publisher) closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isClosing
}

// watchConnection 监听连接关闭并重连
func (p *Publisher) watchConnection() {
	for {
		if p.closing() {
			return
		}

		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()

		closeC := conn.NotifyClose(make(chan *amqp.Error, 1))
		if err := <-closeC; err != nil {
			p.logger.Warn("RabbitMQ connection closed, reconnecting", zap.Error(err))
		}

		if p.closing() {
			return
		}

		for i := 0; i < 5; i++ {
			if err := p.connect(); err != nil {
				p.logger.Warn("RabbitMQ reconnect failed", zap.Int("attempt", i+1), zap.Error(err))
				time.Sleep(time.Duration(i+1) * time.Second)
				continue
			}
			break
		}
	}
}

// EncodeEvent 序列化通知消息
func EncodeEvent(ev *AnalysisEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal analysis event: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    ev.AnalysisID,
		Body:         body,
		Timestamp:    ev.CompletedAt,
	}, nil
}

// NotifyAnalysis 发布分析完成通知
func (p *Publisher) NotifyAnalysis(ctx context.Context, ev *AnalysisEvent) error {
	msg, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("channel is not available")
	}

	if err := p.channel.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("published analysis event", zap.String("analysis_id", ev.AnalysisID))
	return nil
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isClosing = true
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// IsConnected 连接是否可用
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed()
}
