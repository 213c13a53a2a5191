// Package monitor 长连接订阅设备时间主题，维护看板状态：
// broker 列表轮换重连、设备在线判定（与传输层连接状态无关）、本地走时、reset 命令。
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"smartclock/common/mqtt"
	"smartclock/internal/domain"
	"smartclock/internal/metrics"
	"smartclock/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const snapshotKey = "smartclock:monitor:last"

const defaultConnectTimeout = 15 * time.Second

// snapshotTTL 超过一天的快照不再恢复
const snapshotTTL = 24 * time.Hour

// ErrNotConnected 当前没有可用的 broker 连接
var ErrNotConnected = errors.New("MQTT not connected")

// Config 看板订阅配置
type Config struct {
	BrokerURLs     []string
	Username       string
	Password       string
	ClientIDPrefix string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	ErrorBackoff   time.Duration // 出错后切换到下一个 broker 前的等待
	CloseBackoff   time.Duration // 正常断开后重连同一个 broker 前的等待
	Freshness      time.Duration // 最近一次上报在该窗口内才算设备在线
	TimeTopic      string
	CommandTopic   string
	QoS            byte
}

// Snapshot 看板状态
type Snapshot struct {
	Time               string     `json:"time"`
	Online             bool       `json:"online"`
	TransportConnected bool       `json:"transportConnected"`
	Broker             string     `json:"broker"`
	LastUpdate         *time.Time `json:"lastUpdate"`
	Warning            string     `json:"warning,omitempty"`
}

type persistedState struct {
	Time       string    `json:"time"`
	ReceivedAt time.Time `json:"receivedAt"`
	Broker     string    `json:"broker"`
}

// Monitor 长连接订阅者
type Monitor struct {
	cfg    Config
	dial   mqtt.Dialer
	kv     store.KV
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	conn       mqtt.Conn
	generation uint64 // 每次建立/拆除连接递增，旧连接的 handler 据此失效
	broker     string
	clock      domain.DeviceClock
	hasClock   bool
	lastUpdate time.Time
	warning    string
}

// New kv 可为 nil（不持久化）
func New(cfg Config, dial mqtt.Dialer, kv store.KV, logger *zap.Logger) *Monitor {
	if dial == nil {
		dial = mqtt.DefaultDialer
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "WebApp"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Monitor{cfg: cfg, dial: dial, kv: kv, logger: logger, now: time.Now}
}

// Run 阻塞直到 ctx 结束。连接出错切换到下一个 broker（循环），正常断开重连同一个。
func (m *Monitor) Run(ctx context.Context) {
	if len(m.cfg.BrokerURLs) == 0 {
		m.logger.Error("Monitor has no broker URLs, not starting")
		return
	}
	m.restore(ctx)

	idx := 0
	for {
		url := m.cfg.BrokerURLs[idx]
		err := m.session(ctx, url)
		if ctx.Err() != nil {
			return
		}

		var backoff time.Duration
		if err != nil {
			m.logger.Warn("MQTT connection error, switching broker",
				zap.String("broker", url),
				zap.Error(err),
			)
			idx = (idx + 1) % len(m.cfg.BrokerURLs)
			backoff = m.cfg.ErrorBackoff
			metrics.IncMonitorReconnect("error")
		} else {
			m.logger.Info("MQTT connection closed, reconnecting", zap.String("broker", url))
			backoff = m.cfg.CloseBackoff
			metrics.IncMonitorReconnect("close")
		}

		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

// session 单次连接的生命周期。返回 nil 表示连接被正常关闭。
func (m *Monitor) session(ctx context.Context, url string) error {
	lost := make(chan error, 1)
	conn, err := m.dial(ctx, mqtt.DialOptions{
		Broker:         url,
		ClientID:       m.cfg.ClientIDPrefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Username:       m.cfg.Username,
		Password:       m.cfg.Password,
		ConnectTimeout: m.cfg.ConnectTimeout,
		KeepAlive:      m.cfg.KeepAlive,
		OnConnectionLost: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
		Logger: m.logger,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.conn = conn
	m.broker = url
	m.mu.Unlock()
	metrics.SetMonitorConnected(true)
	m.logger.Info("Connected to MQTT broker", zap.String("broker", url))

	// SUBACK 迟迟不到也按连接错误处理，切换 broker
	subCtx, cancelSub := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err = conn.Subscribe(subCtx, m.cfg.TimeTopic, m.cfg.QoS, m.messageHandler(gen))
	cancelSub()
	if err != nil {
		m.teardown(gen, conn)
		return fmt.Errorf("subscribe %s: %w", m.cfg.TimeTopic, err)
	}

	// 连接后立即让设备上报一次
	pubCtx, cancelPub := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	if err := conn.Publish(pubCtx, m.cfg.CommandTopic, m.cfg.QoS, false, []byte("reset")); err != nil {
		m.logger.Warn("Failed to send initial reset", zap.Error(err))
	}
	cancelPub()

	select {
	case <-ctx.Done():
		m.teardown(gen, conn)
		return ctx.Err()
	case err := <-lost:
		m.teardown(gen, conn)
		if err == nil || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// teardown 先让 handler 失效并取消订阅，再断开
func (m *Monitor) teardown(gen uint64, conn mqtt.Conn) {
	m.mu.Lock()
	if m.generation == gen {
		m.generation++
		m.conn = nil
	}
	m.mu.Unlock()
	metrics.SetMonitorConnected(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Unsubscribe(ctx, m.cfg.TimeTopic); err != nil {
		m.logger.Debug("Unsubscribe on teardown failed", zap.Error(err))
	}
	conn.Disconnect()
}

func (m *Monitor) messageHandler(gen uint64) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		if topic != m.cfg.TimeTopic {
			return nil
		}
		raw := string(payload)

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return nil
		}
		clock, err := domain.ParseDeviceClock(raw)
		if err != nil {
			m.warning = fmt.Sprintf("invalid time from device: %q", raw)
			m.mu.Unlock()
			metrics.IncMonitorMessage("malformed")
			m.logger.Warn("Malformed device time", zap.String("payload", raw))
			return nil
		}
		m.clock = clock
		m.hasClock = true
		m.lastUpdate = m.now()
		m.warning = ""
		state := persistedState{Time: raw, ReceivedAt: m.lastUpdate, Broker: m.broker}
		m.mu.Unlock()

		metrics.IncMonitorMessage("accepted")
		m.persist(state)
		return nil
	}
}

// Snapshot 当前看板状态
func (m *Monitor) Snapshot() Snapshot {
	return m.SnapshotAt(m.now())
}

// SnapshotAt 在 now 时刻计算看板状态：显示时间 = 最近上报 + 已过整秒数
func (m *Monitor) SnapshotAt(now time.Time) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TransportConnected: m.conn != nil && m.conn.IsConnected(),
		Broker:             m.broker,
		Warning:            m.warning,
	}
	if !m.hasClock {
		return s
	}
	elapsed := now.Sub(m.lastUpdate)
	if elapsed < 0 {
		elapsed = 0
	}
	s.Time = m.clock.Add(elapsed.Truncate(time.Second)).String()
	s.Online = elapsed < m.cfg.Freshness
	last := m.lastUpdate
	s.LastUpdate = &last
	return s
}

// RequestReset 通过当前连接发布 reset
func (m *Monitor) RequestReset(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(ctx, m.cfg.CommandTopic, m.cfg.QoS, false, []byte("reset")); err != nil {
		return fmt.Errorf("publish reset: %w", err)
	}
	m.logger.Info("Reset command sent to device")
	return nil
}

func (m *Monitor) persist(state persistedState) {
	if m.kv == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.kv.Set(ctx, snapshotKey, string(raw), snapshotTTL); err != nil {
		m.logger.Warn("Failed to persist monitor snapshot", zap.Error(err))
	}
}

// restore 进程重启后恢复最近一次上报，在线状态仍按新鲜度判定
func (m *Monitor) restore(ctx context.Context) {
	if m.kv == nil {
		return
	}
	raw, err := m.kv.Get(ctx, snapshotKey)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			m.logger.Warn("Failed to load monitor snapshot", zap.Error(err))
		}
		return
	}
	var state persistedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		m.logger.Warn("Discarding corrupt monitor snapshot", zap.Error(err))
		if err := m.kv.Delete(ctx, snapshotKey); err != nil {
			m.logger.Warn("Failed to delete corrupt monitor snapshot", zap.Error(err))
		}
		return
	}
	clock, err := domain.ParseDeviceClock(state.Time)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasClock {
		return
	}
	m.clock = clock
	m.hasClock = true
	m.lastUpdate = state.ReceivedAt
	m.broker = state.Broker
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
