package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartclock/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, error) { return "", errors.New("redis down") }
func (brokenKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("redis down")
}
func (brokenKV) Delete(context.Context, string) error { return errors.New("redis down") }

func TestDeviceSettings_DefaultAndSet(t *testing.T) {
	svc := NewDeviceSettingsService(store.NewMemoryKV(), "Asia/Ho_Chi_Minh", zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, "Asia/Ho_Chi_Minh", svc.GetTimezone(ctx))

	require.NoError(t, svc.SetTimezone(ctx, " Europe/Berlin "))
	assert.Equal(t, "Europe/Berlin", svc.GetTimezone(ctx))

	loc, err := svc.Location(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	loc, err = svc.Location(ctx, "UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	require.NoError(t, svc.ResetTimezone(ctx))
	assert.Equal(t, "Asia/Ho_Chi_Minh", svc.GetTimezone(ctx))
}

func TestDeviceSettings_Invalid(t *testing.T) {
	svc := NewDeviceSettingsService(store.NewMemoryKV(), "UTC", zap.NewNop())
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetTimezone(ctx, ""), ErrInvalidInput)
	assert.ErrorIs(t, svc.SetTimezone(ctx, "Mars/Olympus"), ErrInvalidInput)

	_, err := svc.Location(ctx, "Mars/Olympus")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeviceSettings_KVFailure(t *testing.T) {
	svc := NewDeviceSettingsService(brokenKV{}, "UTC", zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, "UTC", svc.GetTimezone(ctx))
	assert.ErrorIs(t, svc.SetTimezone(ctx, "Asia/Tokyo"), ErrStoreUnavailable)
	assert.ErrorIs(t, svc.ResetTimezone(ctx), ErrStoreUnavailable)
}
