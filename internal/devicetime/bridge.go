// Package devicetime 通过公共 MQTT broker 向时钟设备请求当前时间、发送 reset 命令。
// 每次调用都是独立会话：新 client id、连接、订阅、发布、等待、断开。
package devicetime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"smartclock/common/mqtt"
	"smartclock/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// CommandReset 让设备立即上报时间
	CommandReset = "reset"
	// CommandStatusCheck 连通性探测时发送，设备可忽略
	CommandStatusCheck = "status_check"
)

var (
	ErrConnectionTimeout  = errors.New("timeout connecting to MQTT broker")
	ErrBrokerError        = errors.New("MQTT broker error")
	ErrSubscribe          = errors.New("failed to subscribe to device time topic")
	ErrPublish            = errors.New("failed to publish device command")
	ErrDeviceUnresponsive = errors.New("device did not respond")
)

// Config 桥接配置
type Config struct {
	BrokerURL      string
	Username       string
	Password       string
	ClientIDPrefix string
	ConnectTimeout time.Duration
	ReplyTimeout   time.Duration // 整个会话的截止时间，从连接开始计
	TimeTopic      string
	CommandTopic   string
	QoS            byte
}

// Reply 设备上报的时间（原样返回，不做格式校验）
type Reply struct {
	Time       string
	ReceivedAt time.Time
}

// ProbeResult broker 连通性探测结果
type ProbeResult struct {
	Connected  bool
	Broker     string
	Latency    time.Duration
	Timestamp  time.Time
	TimeTopic  string
	ResetTopic string
	Error      string
	Message    string
}

// Bridge Device Time Bridge
type Bridge struct {
	cfg    Config
	dial   mqtt.Dialer
	logger *zap.Logger
	now    func() time.Time
}

// NewBridge dial 为 nil 时使用 paho
func NewBridge(cfg Config, dial mqtt.Dialer, logger *zap.Logger) *Bridge {
	if dial == nil {
		dial = mqtt.DefaultDialer
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "WebClient"
	}
	return &Bridge{cfg: cfg, dial: dial, logger: logger, now: time.Now}
}

// RequestTime 发布 reset 并等待设备在时间主题上的第一条消息
func (b *Bridge) RequestTime(ctx context.Context) (*Reply, error) {
	start := b.now()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ReplyTimeout)
	defer cancel()

	conn, err := b.connect(ctx, b.cfg.ClientIDPrefix)
	if err != nil {
		b.observe("time", err, start)
		return nil, err
	}
	defer conn.Disconnect()

	replies := make(chan Reply, 1)
	handler := func(topic string, payload []byte) error {
		if topic != b.cfg.TimeTopic {
			return nil
		}
		// 只取第一条
		select {
		case replies <- Reply{Time: string(payload), ReceivedAt: b.now()}:
		default:
		}
		return nil
	}

	if err := conn.Subscribe(ctx, b.cfg.TimeTopic, b.cfg.QoS, handler); err != nil {
		err = fmt.Errorf("%w: %w", ErrSubscribe, err)
		b.observe("time", err, start)
		return nil, err
	}
	if err := conn.Publish(ctx, b.cfg.CommandTopic, b.cfg.QoS, false, []byte(CommandReset)); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublish, err)
		b.observe("time", err, start)
		return nil, err
	}
	b.logger.Debug("Waiting for device time",
		zap.String("topic", b.cfg.TimeTopic),
		zap.Duration("deadline", b.cfg.ReplyTimeout),
	)

	select {
	case r := <-replies:
		b.observe("time", nil, start)
		b.logger.Info("Device time received", zap.String("time", r.Time), zap.Duration("latency", r.ReceivedAt.Sub(start)))
		return &r, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			b.observe("time", ctx.Err(), start)
			return nil, ctx.Err()
		}
		err := fmt.Errorf("%w within %s", ErrDeviceUnresponsive, b.cfg.ReplyTimeout)
		b.observe("time", err, start)
		return nil, err
	}
}

// SendReset 只发布 reset，不等待回复
func (b *Bridge) SendReset(ctx context.Context) (time.Time, error) {
	start := b.now()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ReplyTimeout)
	defer cancel()

	conn, err := b.connect(ctx, "WebReset")
	if err != nil {
		b.observe("reset", err, start)
		return time.Time{}, err
	}
	defer conn.Disconnect()

	if err := conn.Publish(ctx, b.cfg.CommandTopic, b.cfg.QoS, false, []byte(CommandReset)); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublish, err)
		b.observe("reset", err, start)
		return time.Time{}, err
	}
	b.observe("reset", nil, start)
	b.logger.Info("Reset command sent", zap.String("topic", b.cfg.CommandTopic))
	return b.now(), nil
}

// Probe 连接、订阅、发布 status_check，结果写入 ProbeResult，不返回错误
func (b *Bridge) Probe(ctx context.Context) ProbeResult {
	start := b.now()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	res := ProbeResult{
		Broker:     brokerHost(b.cfg.BrokerURL),
		TimeTopic:  b.cfg.TimeTopic,
		ResetTopic: b.cfg.CommandTopic,
	}
	finish := func(err error) ProbeResult {
		res.Timestamp = b.now()
		res.Latency = res.Timestamp.Sub(start)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Connected = true
			res.Message = "MQTT broker connection test successful"
		}
		b.observe("probe", err, start)
		return res
	}

	conn, err := b.connect(ctx, "StatusCheck")
	if err != nil {
		return finish(err)
	}
	defer conn.Disconnect()

	noop := func(string, []byte) error { return nil }
	if err := conn.Subscribe(ctx, b.cfg.TimeTopic, b.cfg.QoS, noop); err != nil {
		return finish(fmt.Errorf("%w: %w", ErrSubscribe, err))
	}
	if err := conn.Publish(ctx, b.cfg.CommandTopic, b.cfg.QoS, false, []byte(CommandStatusCheck)); err != nil {
		return finish(fmt.Errorf("%w: %w", ErrPublish, err))
	}
	return finish(nil)
}

func (b *Bridge) connect(ctx context.Context, prefix string) (mqtt.Conn, error) {
	clientID := newClientID(prefix)
	b.logger.Debug("Connecting to MQTT broker",
		zap.String("broker", b.cfg.BrokerURL),
		zap.String("client_id", clientID),
	)
	conn, err := b.dial(ctx, mqtt.DialOptions{
		Broker:         b.cfg.BrokerURL,
		ClientID:       clientID,
		Username:       b.cfg.Username,
		Password:       b.cfg.Password,
		ConnectTimeout: b.cfg.ConnectTimeout,
		Logger:         b.logger,
	})
	if err == nil {
		return conn, nil
	}
	switch {
	case errors.Is(err, mqtt.ErrConnectTimeout):
		return nil, fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrBrokerError, err)
	}
}

func (b *Bridge) observe(kind string, err error, start time.Time) {
	outcome := outcomeOf(err)
	metrics.ObserveDeviceSession(kind, outcome, b.now().Sub(start))
	if err != nil {
		b.logger.Warn("Device session failed",
			zap.String("kind", kind),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrConnectionTimeout):
		return "connect_timeout"
	case errors.Is(err, ErrBrokerError):
		return "broker_error"
	case errors.Is(err, ErrSubscribe):
		return "subscribe_error"
	case errors.Is(err, ErrPublish):
		return "publish_error"
	case errors.Is(err, ErrDeviceUnresponsive):
		return "timed_out"
	default:
		return "canceled"
	}
}

// newClientID 每个会话一个随机 client id，避免 broker 端互踢
func newClientID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// brokerHost tcp://broker.emqx.io:1883 -> broker.emqx.io:1883
func brokerHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
