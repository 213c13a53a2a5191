package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"smartclock/internal/service"

	"go.uber.org/zap"
)

const (
	msgInvalidAlarm  = "Invalid alarm data. Required fields: hour (0-23), minute (0-59), daysOfWeek (array of 0-6), enabled (boolean), optional label (string)"
	msgInvalidUpdate = "Invalid update data. Required: id (string). Optional: hour (0-23), minute (0-59), daysOfWeek (array of 0-6), enabled (boolean), label (string)"
	msgInvalidDelete = "Invalid request. Required: id (string)"
)

// AlarmHandler 闹钟 CRUD
type AlarmHandler struct {
	alarms   service.AlarmService
	settings service.DeviceSettingsService
	logger   *zap.Logger
	now      func() time.Time
}

func NewAlarmHandler(alarms service.AlarmService, settings service.DeviceSettingsService, logger *zap.Logger) *AlarmHandler {
	return &AlarmHandler{alarms: alarms, settings: settings, logger: logger, now: time.Now}
}

// alarmIDBody id 可以写成 id 或 _id
type alarmIDBody struct {
	RawID    string `json:"id"`
	LegacyID string `json:"_id"`
}

// ServeAlarms /alarms 与 /api/alarms：按方法分发
func (h *AlarmHandler) ServeAlarms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodPatch, http.MethodPut:
		h.Update(w, r)
	case http.MethodDelete:
		h.Delete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *AlarmHandler) List(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.alarms.ListAlarms(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail("Failed to fetch alarms"))
		return
	}
	writeJSON(w, http.StatusOK, alarms)
}

func (h *AlarmHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAlarmRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(msgInvalidAlarm))
		return
	}
	alarm, err := h.alarms.CreateAlarm(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create alarm")
		return
	}
	writeJSON(w, http.StatusCreated, alarm)
}

func (h *AlarmHandler) Update(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r, maxBodyBytes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(msgInvalidUpdate))
		return
	}
	var ids alarmIDBody
	var req service.UpdateAlarmRequest
	if err := decodeJSON(raw, &ids); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(msgInvalidUpdate))
		return
	}
	if err := decodeJSON(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(msgInvalidUpdate))
		return
	}
	req.ID = idFrom(r, ids.RawID, ids.LegacyID)

	alarm, err := h.alarms.UpdateAlarm(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to update alarm")
		return
	}
	writeJSON(w, http.StatusOK, alarm)
}

func (h *AlarmHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := idFrom(r, "", "")
	if id == "" {
		var body alarmIDBody
		if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(msgInvalidDelete))
			return
		}
		id = idFrom(r, body.RawID, body.LegacyID)
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, Fail(msgInvalidDelete))
		return
	}

	if err := h.alarms.DeleteAlarm(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to delete alarm")
		return
	}
	writeJSON(w, http.StatusOK, Ok())
}

// Export GET /alarms/export -> xlsx
func (h *AlarmHandler) Export(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.alarms.ListAlarms(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail("Failed to fetch alarms"))
		return
	}
	data, err := GenerateAlarmExport(alarms)
	if err != nil {
		h.logger.Error("Failed to generate alarm export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Failed to export alarms"))
		return
	}
	filename := "alarms_" + h.now().Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Next GET /alarms/next?timezone=
func (h *AlarmHandler) Next(w http.ResponseWriter, r *http.Request) {
	loc, err := h.settings.Location(r.Context(), r.URL.Query().Get("timezone"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(clientMessage(err)))
		return
	}
	next, err := h.alarms.NextAlarm(r.Context(), h.now().In(loc))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("No upcoming alarm"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail("Failed to fetch alarms"))
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *AlarmHandler) writeServiceError(w http.ResponseWriter, err error, storeMsg string) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		writeJSON(w, status, Fail(clientMessage(err)))
	case http.StatusNotFound:
		writeJSON(w, status, Fail("Alarm not found"))
	default:
		writeJSON(w, status, Fail(storeMsg))
	}
}
