package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Kirky-X/oxcache/oxerrors"
)

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	r := New("svc")
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]interface{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Do(context.Background(), "k", func() (interface{}, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return "value", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		require.Equal(t, "value", v)
	}
}

func TestDoReturnsError(t *testing.T) {
	r := New("svc")
	wantErr := errors.New("boom")
	_, err := r.Do(context.Background(), "k", func() (interface{}, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestCancelledCallerDoesNotCancelLoader(t *testing.T) {
	r := New("svc")
	loaderDone := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = r.Do(ctx, "k", func() (interface{}, error) {
			time.Sleep(30 * time.Millisecond)
			close(loaderDone)
			return "v", nil
		})
	}()

	time.Sleep(5 * time.Millisecond)
	cancel() // cancel the first caller before the loader finishes

	select {
	case <-loaderDone:
	case <-time.After(time.Second):
		t.Fatal("loader should still run to completion after caller cancellation")
	}
}

func TestPanicInLoaderBecomesInternalError(t *testing.T) {
	r := New("svc")
	_, err := r.Do(context.Background(), "k", func() (interface{}, error) {
		panic("boom")
	})
	require.ErrorIs(t, err, oxerrors.ErrInternal)
}

func TestInFlight(t *testing.T) {
	r := New("svc")
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = r.Do(context.Background(), "k", func() (interface{}, error) {
			close(started)
			<-release
			return "v", nil
		})
	}()

	<-started
	require.True(t, r.InFlight("k"))
	close(release)
}
