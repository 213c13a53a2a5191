package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// ServeHTTP 外层依次是 CORS、请求日志
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	withCORS(withRequestLog(r.logger, r.mux)).ServeHTTP(w, req)
}

// RegisterAlarmRoutes /alarms 以及旧版 /api/* 路由
func (r *Router) RegisterAlarmRoutes(a *AlarmHandler) {
	r.Handle("/alarms", a.ServeAlarms)
	r.Handle("/api/alarms", a.ServeAlarms)

	r.Handle("/alarms/export", methodOnly(http.MethodGet, a.Export))
	r.Handle("/alarms/next", methodOnly(http.MethodGet, a.Next))

	// legacy
	r.Handle("/api/set-alarm", methodOnly(http.MethodPost, a.Create))
	r.Handle("/api/update-alarm", methodOnly(http.MethodPatch, a.Update))
	r.Handle("/api/delete-alarm", methodOnly(http.MethodDelete, a.Delete))
}

// RegisterDeviceRoutes 设备时间、reset、状态、时区
func (r *Router) RegisterDeviceRoutes(d *DeviceHandler) {
	r.Handle("/api/esp32-time", d.ESP32Time)
	r.Handle("/api/esp32-status", d.ESP32Status)

	r.Handle("/api/device/clock", d.Clock)
	r.Handle("/api/device/clock/reset", d.ClockReset)

	r.Handle("/api/device/timezone", d.Timezone)
	r.Handle("/api/set-device-timezone", methodOnly(http.MethodPost, d.Timezone))
	r.Handle("/api/device-time", d.DeviceTime)
	r.Handle("/api/get-device-time", d.DeviceTime)
}

// RegisterOpsRoutes /healthz 与 /metrics
func (r *Router) RegisterOpsRoutes(metricsHandler http.Handler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.HandleHandler("/metrics", metricsHandler)
	}
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
