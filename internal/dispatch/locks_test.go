package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_ExclusivePerKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	release, err := k.Acquire(ctx, "customer:ramesh", "product:vivo")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(short, "product:vivo")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	other, err := k.Acquire(ctx, "product:charger")
	require.NoError(t, err, "disjoint keys must not block")
	other()

	release()
	release()
	assert.Zero(t, k.Len(), "released keys are removed")
}

func TestKeyedMutex_OppositeOrderNoDeadlock(t *testing.T) {
	k := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "a", "b")
			if err == nil {
				counter++
				release()
			}
		}()
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "b", "a", "b")
			if err == nil {
				counter++
				release()
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
	assert.Equal(t, 100, counter)
	assert.Zero(t, k.Len())
}
