package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"smartclock/internal/devicetime"
	"smartclock/internal/domain"
	"smartclock/internal/monitor"
	"smartclock/internal/service"

	"go.uber.org/zap"
)

// DeviceBridge 单次会话的设备时间桥接
type DeviceBridge interface {
	RequestTime(ctx context.Context) (*devicetime.Reply, error)
	SendReset(ctx context.Context) (time.Time, error)
	Probe(ctx context.Context) devicetime.ProbeResult
}

// ClockMonitor 长连接看板
type ClockMonitor interface {
	Snapshot() monitor.Snapshot
	RequestReset(ctx context.Context) error
}

// DeviceHandler 设备时间 / reset / 状态 / 时区
type DeviceHandler struct {
	bridge   DeviceBridge
	monitor  ClockMonitor // 可为 nil（MONITOR_ENABLED=false）
	settings service.DeviceSettingsService
	logger   *zap.Logger
	now      func() time.Time
}

func NewDeviceHandler(bridge DeviceBridge, mon ClockMonitor, settings service.DeviceSettingsService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		bridge:   bridge,
		monitor:  mon,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

type probeTopics struct {
	TimeTopic  string `json:"timeTopic"`
	ResetTopic string `json:"resetTopic"`
}

type probeResponse struct {
	Connected  bool        `json:"connected"`
	MQTTBroker string      `json:"mqttBroker"`
	Latency    int64       `json:"latency"`
	Timestamp  int64       `json:"timestamp"`
	Topics     probeTopics `json:"topics"`
	Error      string      `json:"error,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// ESP32Time GET 请求设备时间，POST 发送 reset
func (h *DeviceHandler) ESP32Time(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		reply, err := h.bridge.RequestTime(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"time":      reply.Time,
			"timestamp": reply.ReceivedAt.UnixMilli(),
			"source":    "ESP32",
			"status":    "connected",
		})
	case http.MethodPost:
		at, err := h.bridge.SendReset(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "Reset command sent to device",
			"timestamp": at.UnixMilli(),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ESP32Status broker 连通性探测，总是 200
func (h *DeviceHandler) ESP32Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res := h.bridge.Probe(r.Context())
	writeJSON(w, http.StatusOK, probeResponse{
		Connected:  res.Connected,
		MQTTBroker: res.Broker,
		Latency:    res.Latency.Milliseconds(),
		Timestamp:  res.Timestamp.UnixMilli(),
		Topics:     probeTopics{TimeTopic: res.TimeTopic, ResetTopic: res.ResetTopic},
		Error:      res.Error,
		Message:    res.Message,
	})
}

// Clock GET /api/device/clock 看板状态
func (h *DeviceHandler) Clock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("dashboard monitor is disabled"))
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

// ClockReset POST /api/device/clock/reset 通过长连接发送 reset
func (h *DeviceHandler) ClockReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("dashboard monitor is disabled"))
		return
	}
	if err := h.monitor.RequestReset(r.Context()); err != nil {
		if errors.Is(err, monitor.ErrNotConnected) {
			writeJSON(w, http.StatusServiceUnavailable, Fail(err.Error()))
			return
		}
		h.logger.Warn("Reset via monitor failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Failed to send reset command"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Reset command sent to device",
		"timestamp": h.now().UnixMilli(),
	})
}

// Timezone GET / POST 设备时区，DELETE 恢复默认
func (h *DeviceHandler) Timezone(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"timezone": h.settings.GetTimezone(r.Context())})
	case http.MethodPost, http.MethodPut:
		var body struct {
			Timezone string `json:"timezone"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("Invalid request. Required: timezone (string)"))
			return
		}
		if err := h.settings.SetTimezone(r.Context(), body.Timezone); err != nil {
			status := statusFor(err)
			if status == http.StatusBadRequest {
				writeJSON(w, status, Fail(clientMessage(err)))
				return
			}
			writeJSON(w, status, Fail("Failed to save timezone"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"timezone": h.settings.GetTimezone(r.Context())})
	case http.MethodDelete:
		if err := h.settings.ResetTimezone(r.Context()); err != nil {
			writeJSON(w, statusFor(err), Fail("Failed to reset timezone"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"timezone": h.settings.GetTimezone(r.Context())})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DeviceTime GET /api/device-time?timezone=
// 设备上报的 HH:MM:SS 按设备时区放到离收到时刻最近的那一天，再换算到请求的时区
func (h *DeviceHandler) DeviceTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceLoc, err := h.settings.Location(r.Context(), "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail("device timezone is misconfigured"))
		return
	}
	displayLoc := deviceLoc
	if tz := r.URL.Query().Get("timezone"); tz != "" {
		if displayLoc, err = h.settings.Location(r.Context(), tz); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(clientMessage(err)))
			return
		}
	}

	reply, err := h.bridge.RequestTime(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	clock, err := domain.ParseDeviceClock(reply.Time)
	if err != nil {
		h.logger.Warn("Device replied with malformed time", zap.String("payload", reply.Time))
		writeJSON(w, http.StatusBadGateway, Fail("device replied with malformed time"))
		return
	}

	at := clock.Nearest(reply.ReceivedAt.In(deviceLoc)).In(displayLoc)
	writeJSON(w, http.StatusOK, map[string]string{
		"datetime": at.Format(time.RFC3339),
		"timezone": displayLoc.String(),
		"time":     reply.Time,
	})
}
