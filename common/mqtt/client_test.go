package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentBroker 接受 TCP 连接但从不回复 CONNACK
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "tcp://" + ln.Addr().String()
}

func TestDial_SilentBrokerTimesOut(t *testing.T) {
	broker := silentBroker(t)

	start := time.Now()
	_, err := Dial(context.Background(), DialOptions{
		Broker:         broker,
		ClientID:       "test-timeout",
		ConnectTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDial_ContextCanceled(t *testing.T) {
	broker := silentBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Dial(ctx, DialOptions{
		Broker:         broker,
		ClientID:       "test-cancel",
		ConnectTimeout: 5 * time.Second,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDial_ContextDeadlineIsTimeout(t *testing.T) {
	broker := silentBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, DialOptions{
		Broker:         broker,
		ClientID:       "test-deadline",
		ConnectTimeout: 5 * time.Second,
	})
	assert.ErrorIs(t, err, ErrConnectTimeout)
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), DialOptions{
		Broker:         "tcp://" + addr,
		ClientID:       "test-refused",
		ConnectTimeout: 2 * time.Second,
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnectTimeout))
	assert.Contains(t, err.Error(), "failed to connect to MQTT broker")
}

func TestNopIfNil(t *testing.T) {
	assert.NotNil(t, nopIfNil(nil))
}
