package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrConnectTimeout 在限定时间内未完成 CONNECT/CONNACK
var ErrConnectTimeout = errors.New("mqtt connect timeout")

const pahoTimeoutSlack = 500 * time.Millisecond

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// Conn 会话所需的最小 MQTT 连接接口（测试中可替换）
type Conn interface {
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Disconnect()
	IsConnected() bool
}

// DialOptions 单次连接参数
type DialOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// OnConnectionLost 连接建立后意外断开时回调（可为 nil）
	OnConnectionLost func(err error)
	Logger           *zap.Logger
}

// Dialer 建立一次 MQTT 连接
type Dialer func(ctx context.Context, opts DialOptions) (Conn, error)

// DefaultDialer 基于 paho 的 Dialer
func DefaultDialer(ctx context.Context, opts DialOptions) (Conn, error) {
	return Dial(ctx, opts)
}

// Client MQTT客户端封装
type Client struct {
	client mqtt.Client
	logger *zap.Logger
}

// Dial 建立一次性连接：不自动重连，连接时间受 ConnectTimeout 和 ctx 约束
func Dial(ctx context.Context, o DialOptions) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	if o.ConnectTimeout > 0 {
		// paho 自身的超时比外层计时器稍长，超时统一由下面的 select 判定
		opts.SetConnectTimeout(o.ConnectTimeout + pahoTimeoutSlack)
	}
	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	if o.OnConnectionLost != nil {
		lost := o.OnConnectionLost
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			lost(err)
		})
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	var timeout <-chan time.Time
	if o.ConnectTimeout > 0 {
		timer := time.NewTimer(o.ConnectTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", o.Broker, err)
		}
	case <-timeout:
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, o.Broker, o.ConnectTimeout)
	case <-ctx.Done():
		client.Disconnect(0)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, o.Broker)
		}
		return nil, ctx.Err()
	}

	return &Client{
		client: client,
		logger: nopIfNil(o.Logger).With(zap.String("broker", o.Broker)),
	}, nil
}

// Subscribe 订阅主题
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断处理
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	return nil
}

// Publish 发布消息
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
