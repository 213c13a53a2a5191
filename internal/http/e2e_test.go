package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartclock/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlarmLifecycle_E2E 通过真实 HTTP 走完 create -> list -> update -> delete
func TestAlarmLifecycle_E2E(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	client := resty.New().
		SetBaseURL(srv.URL).
		SetTimeout(5 * time.Second)

	var created domain.Alarm
	resp, err := client.R().
		SetBody(map[string]any{"hour": 6, "minute": 45, "daysOfWeek": []int{1, 2, 3, 4, 5}, "enabled": true, "label": "weekday"}).
		SetResult(&created).
		Post("/alarms")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	_, ok := domain.CanonicalAlarmID(created.ID)
	require.True(t, ok)

	var listed []domain.Alarm
	resp, err = client.R().SetResult(&listed).Get("/api/alarms")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, listed, 1)
	assert.Equal(t, created, listed[0])

	var updated domain.Alarm
	resp, err = client.R().
		SetBody(map[string]any{"id": created.ID, "hour": 7}).
		SetResult(&updated).
		Patch("/alarms")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())
	assert.Equal(t, 7, updated.Hour)
	assert.Equal(t, "weekday", updated.Label)

	var failure ErrorBody
	resp, err = client.R().
		SetBody(map[string]any{"id": created.ID}).
		SetError(&failure).
		Patch("/alarms")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, "No valid fields to update", failure.Error)

	resp, err = client.R().SetQueryParam("id", created.ID).Delete("/alarms")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.JSONEq(t, `{"success":true}`, resp.String())

	resp, err = client.R().SetQueryParam("id", created.ID).Delete("/api/delete-alarm")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
}
