package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/gompminer/pkg/log"
)

func TestKeepalive_SendsEveryInterval(t *testing.T) {
	var sent atomic.Int32
	k := NewKeepalive(5*time.Millisecond, func(context.Context) error {
		sent.Add(1)
		return nil
	}, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return sent.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestKeepalive_StopsOnSendError(t *testing.T) {
	sendErr := errors.New("connection closed")
	k := NewKeepalive(time.Millisecond, func(context.Context) error {
		return sendErr
	}, log.Nop())

	select {
	case err := <-runAsync(k):
		assert.ErrorIs(t, err, sendErr)
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive kept running after a failed send")
	}
}

func TestNewKeepalive_DefaultInterval(t *testing.T) {
	k := NewKeepalive(0, func(context.Context) error { return nil }, log.Nop())
	assert.Equal(t, DefaultKeepaliveInterval, k.interval)
}

func runAsync(k *Keepalive) <-chan error {
	done := make(chan error, 1)
	go func() { done <- k.Run(context.Background()) }()
	return done
}
