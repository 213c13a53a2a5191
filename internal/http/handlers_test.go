package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartclock/internal/devicetime"
	"smartclock/internal/domain"
	"smartclock/internal/monitor"
	"smartclock/internal/repository"
	"smartclock/internal/service"
	"smartclock/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type fakeBridge struct {
	reply    *devicetime.Reply
	err      error
	resetErr error
	probe    devicetime.ProbeResult
	resets   int
}

func (f *fakeBridge) RequestTime(context.Context) (*devicetime.Reply, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeBridge) SendReset(context.Context) (time.Time, error) {
	f.resets++
	return time.UnixMilli(1760000000000), f.resetErr
}

func (f *fakeBridge) Probe(context.Context) devicetime.ProbeResult { return f.probe }

type fakeMonitor struct {
	snapshot monitor.Snapshot
	err      error
	resets   int
}

func (f *fakeMonitor) Snapshot() monitor.Snapshot { return f.snapshot }

func (f *fakeMonitor) RequestReset(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.resets++
	return nil
}

type testEnv struct {
	router   *Router
	repo     *repository.MemoryAlarmsRepo
	bridge   *fakeBridge
	monitor  *fakeMonitor
	settings service.DeviceSettingsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryAlarmsRepo()
	settings := service.NewDeviceSettingsService(store.NewMemoryKV(), "Asia/Ho_Chi_Minh", logger)
	bridge := &fakeBridge{}
	mon := &fakeMonitor{}

	router := NewRouter(logger)
	router.RegisterAlarmRoutes(NewAlarmHandler(service.NewAlarmService(repo, logger), settings, logger))
	router.RegisterDeviceRoutes(NewDeviceHandler(bridge, mon, settings, logger))
	router.RegisterOpsRoutes(nil)
	return &testEnv{router: router, repo: repo, bridge: bridge, monitor: mon, settings: settings}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func seedAlarm(t *testing.T, e *testEnv, hour, minute int) domain.Alarm {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/alarms", map[string]any{
		"hour": hour, "minute": minute, "daysOfWeek": []int{1, 3}, "enabled": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a domain.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a
}

func TestCreateAlarm(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/alarms", map[string]any{
		"hour": 7, "minute": 30, "daysOfWeek": []int{5, 1}, "enabled": true, "label": "work",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var a domain.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	_, ok := domain.CanonicalAlarmID(a.ID)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 5}, a.DaysOfWeek)
	assert.Equal(t, "work", a.Label)
}

func TestCreateAlarm_BadInput(t *testing.T) {
	e := newTestEnv(t)
	bodies := []any{
		`{"hour": 25, "minute": 0, "daysOfWeek": [1], "enabled": true}`,
		`{"hour": "7", "minute": 0, "daysOfWeek": [1], "enabled": true}`,
		`{"hour": 7, "minute": 0, "daysOfWeek": "mon", "enabled": true}`,
		`{"hour": 7, "minute": 0, "daysOfWeek": [1], "enabled": "yes"}`,
		`{"hour": 7, "minute": 0, "daysOfWeek": [1], "enabled": true, "label": 5}`,
		`{"hour": 7, "minute": 0, "daysOfWeek": [], "enabled": true}`,
		`{not json`,
		nil,
	}
	for _, b := range bodies {
		rec := e.do(t, http.MethodPost, "/alarms", b)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%v", b)
		assert.NotEmpty(t, decodeError(t, rec))
	}

	alarms, err := e.repo.ListAlarms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestListAlarms_Ordered(t *testing.T) {
	e := newTestEnv(t)
	seedAlarm(t, e, 7, 30)
	seedAlarm(t, e, 7, 0)
	seedAlarm(t, e, 6, 59)

	rec := e.do(t, http.MethodGet, "/alarms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alarms []domain.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarms))
	require.Len(t, alarms, 3)
	assert.Equal(t, 6, alarms[0].Hour)
	assert.Equal(t, 0, alarms[1].Minute)
	assert.Equal(t, 30, alarms[2].Minute)
}

func TestListAlarms_EmptyArray(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/alarms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdateAlarm(t *testing.T) {
	e := newTestEnv(t)
	a := seedAlarm(t, e, 7, 30)

	rec := e.do(t, http.MethodPatch, "/alarms", map[string]any{"id": a.ID, "enabled": false, "label": "off"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.False(t, updated.Enabled)
	assert.Equal(t, "off", updated.Label)
	assert.Equal(t, 7, updated.Hour)

	// 旧版 _id
	rec = e.do(t, http.MethodPatch, "/api/update-alarm", map[string]any{"_id": a.ID, "minute": 45})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, 45, updated.Minute)
}

func TestUpdateAlarm_Errors(t *testing.T) {
	e := newTestEnv(t)
	a := seedAlarm(t, e, 7, 30)

	rec := e.do(t, http.MethodPatch, "/alarms", map[string]any{"id": a.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No valid fields to update", decodeError(t, rec))

	rec = e.do(t, http.MethodPatch, "/alarms", map[string]any{"id": "abc", "hour": 8})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid alarm ID format", decodeError(t, rec))

	rec = e.do(t, http.MethodPatch, "/alarms", map[string]any{"id": a.ID, "hour": 24})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPatch, "/alarms", map[string]any{"id": domain.NewAlarmID(), "hour": 8})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Alarm not found", decodeError(t, rec))

	rec = e.do(t, http.MethodGet, "/alarms", nil)
	var alarms []domain.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarms))
	assert.Equal(t, []domain.Alarm{a}, alarms)
}

func TestAlarmNullFieldsRejected(t *testing.T) {
	e := newTestEnv(t)
	a := seedAlarm(t, e, 7, 30)

	rec := e.do(t, http.MethodPatch, "/alarms", `{"id": "`+a.ID+`", "hour": null, "minute": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "hour must be an integer in 0-23", decodeError(t, rec))

	rec = e.do(t, http.MethodPost, "/alarms", `{"hour": 1, "minute": 2, "daysOfWeek": [1], "enabled": true, "label": null}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "label must be a string", decodeError(t, rec))

	alarms, err := e.repo.ListAlarms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Alarm{a}, alarms)
}

func TestAlarmIDUppercase(t *testing.T) {
	e := newTestEnv(t)
	a := seedAlarm(t, e, 7, 30)
	upper := strings.ToUpper(a.ID)

	rec := e.do(t, http.MethodPatch, "/alarms", map[string]any{"id": upper, "minute": 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodDelete, "/alarms?id="+upper, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	alarms, err := e.repo.ListAlarms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestDeleteAlarm(t *testing.T) {
	e := newTestEnv(t)
	a := seedAlarm(t, e, 7, 30)
	b := seedAlarm(t, e, 8, 0)

	rec := e.do(t, http.MethodDelete, "/alarms?id=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/alarms?id="+domain.NewAlarmID(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// query 优先于 body
	rec = e.do(t, http.MethodDelete, "/alarms?id="+a.ID, map[string]any{"id": b.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = e.do(t, http.MethodDelete, "/api/delete-alarm", map[string]any{"_id": b.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/alarms", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	alarms, err := e.repo.ListAlarms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodGet, "/api/set-alarm", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodHead, "/alarms", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodOptions, "/alarms", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestRequestIDEchoed(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestExportAlarms(t *testing.T) {
	e := newTestEnv(t)
	seedAlarm(t, e, 9, 5)
	seedAlarm(t, e, 6, 0)

	rec := e.do(t, http.MethodGet, "/alarms/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Alarms")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, AlarmExportHeader, rows[0])
	assert.Equal(t, "06:00", rows[1][1])
	assert.Equal(t, "09:05", rows[2][1])
	assert.Equal(t, "Mon, Wed", rows[1][4])
}

func TestNextAlarm(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/alarms/next", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedAlarm(t, e, 7, 0)
	rec = e.do(t, http.MethodGet, "/alarms/next?timezone=UTC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next struct {
		Alarm domain.Alarm `json:"alarm"`
		At    time.Time    `json:"at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.Equal(t, 7, next.At.Hour())

	rec = e.do(t, http.MethodGet, "/alarms/next?timezone=Nowhere/City", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestESP32Time(t *testing.T) {
	e := newTestEnv(t)
	e.bridge.reply = &devicetime.Reply{Time: "10:11:12", ReceivedAt: time.UnixMilli(1760000000000)}

	rec := e.do(t, http.MethodGet, "/api/esp32-time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"time":"10:11:12","timestamp":1760000000000,"source":"ESP32","status":"connected"}`, rec.Body.String())

	e.bridge.err = devicetime.ErrDeviceUnresponsive
	rec = e.do(t, http.MethodGet, "/api/esp32-time", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec), "did not respond")

	rec = e.do(t, http.MethodPost, "/api/esp32-time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, e.bridge.resets)

	e.bridge.resetErr = devicetime.ErrPublish
	rec = e.do(t, http.MethodPost, "/api/esp32-time", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestESP32Status(t *testing.T) {
	e := newTestEnv(t)
	e.bridge.probe = devicetime.ProbeResult{
		Connected:  false,
		Broker:     "broker.emqx.io:1883",
		Latency:    120 * time.Millisecond,
		Timestamp:  time.UnixMilli(1760000000000),
		TimeTopic:  "clock/time",
		ResetTopic: "clock/reset",
		Error:      "timeout connecting to MQTT broker",
	}
	rec := e.do(t, http.MethodGet, "/api/esp32-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"connected": false,
		"mqttBroker": "broker.emqx.io:1883",
		"latency": 120,
		"timestamp": 1760000000000,
		"topics": {"timeTopic": "clock/time", "resetTopic": "clock/reset"},
		"error": "timeout connecting to MQTT broker"
	}`, rec.Body.String())
}

func TestDeviceClock(t *testing.T) {
	e := newTestEnv(t)
	e.monitor.snapshot = monitor.Snapshot{Time: "08:00:01", Online: false, TransportConnected: true, Broker: "tcp://a:1883"}

	rec := e.do(t, http.MethodGet, "/api/device/clock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s monitor.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, e.monitor.snapshot, s)

	rec = e.do(t, http.MethodPost, "/api/device/clock/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, e.monitor.resets)

	e.monitor.err = monitor.ErrNotConnected
	rec = e.do(t, http.MethodPost, "/api/device/clock/reset", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	e.monitor.err = errors.New("boom")
	rec = e.do(t, http.MethodPost, "/api/device/clock/reset", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeviceClock_MonitorDisabled(t *testing.T) {
	logger := zap.NewNop()
	settings := service.NewDeviceSettingsService(store.NewMemoryKV(), "UTC", logger)
	router := NewRouter(logger)
	router.RegisterDeviceRoutes(NewDeviceHandler(&fakeBridge{}, nil, settings, logger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/device/clock", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTimezone(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/device/timezone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"timezone":"Asia/Ho_Chi_Minh"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/set-device-timezone", map[string]string{"timezone": "Europe/Paris"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"timezone":"Europe/Paris"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/device/timezone", map[string]string{"timezone": "Moon/Base"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/device/timezone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"timezone":"Asia/Ho_Chi_Minh"}`, rec.Body.String())
}

func TestDeviceTime(t *testing.T) {
	e := newTestEnv(t)
	// 2026-10-18 03:00 UTC = 10:00 Asia/Ho_Chi_Minh
	e.bridge.reply = &devicetime.Reply{Time: "10:00:05", ReceivedAt: time.Date(2026, 10, 18, 3, 0, 5, 0, time.UTC)}

	rec := e.do(t, http.MethodGet, "/api/get-device-time?timezone=UTC", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"datetime":"2026-10-18T03:00:05Z","timezone":"UTC","time":"10:00:05"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/device-time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"datetime":"2026-10-18T10:00:05+07:00","timezone":"Asia/Ho_Chi_Minh","time":"10:00:05"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/device-time?timezone=Bad/Zone", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 23:59:58 的上报在设备时区午夜后才收到，日期仍是前一天
	e.bridge.reply = &devicetime.Reply{Time: "23:59:58", ReceivedAt: time.Date(2026, 10, 18, 17, 0, 1, 0, time.UTC)}
	rec = e.do(t, http.MethodGet, "/api/device-time?timezone=UTC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"datetime":"2026-10-18T16:59:58Z","timezone":"UTC","time":"23:59:58"}`, rec.Body.String())

	e.bridge.reply = &devicetime.Reply{Time: "garbage", ReceivedAt: time.Now()}
	rec = e.do(t, http.MethodGet, "/api/device-time", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
