package coalesce_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/userloc/go-userloc/internal/coalesce"
)

func TestConcurrentCallersShareOneExecution(t *testing.T) {
	var g coalesce.Group[string, int]
	var calls atomic.Int32
	release := make(chan struct{})

	const n = 16
	results := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = g.Do(context.Background(), "alice", func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// Give followers a moment to join the in-flight call.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 42, results[i])
	}
	require.Zero(t, g.Len())
}

func TestAllCallersObserveSameError(t *testing.T) {
	var g coalesce.Group[string, int]
	boom := errors.New("boom")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Do(context.Background(), "bob", func() (int, error) {
				<-release
				return 0, boom
			})
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, errs[i], boom)
	}
}

func TestSettledKeyStartsFresh(t *testing.T) {
	var g coalesce.Group[string, int]
	var calls atomic.Int32

	fn := func() (int, error) {
		return int(calls.Add(1)), nil
	}

	v, err := g.Do(context.Background(), "carol", fn)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = g.Do(context.Background(), "carol", fn)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestDistinctKeysIndependent(t *testing.T) {
	var g coalesce.Group[string, string]
	var wg sync.WaitGroup
	for _, key := range []string{"dave", "erin"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.Do(context.Background(), key, func() (string, error) {
				return key, nil
			})
			require.NoError(t, err)
			require.Equal(t, key, v)
		}()
	}
	wg.Wait()
}

func TestFollowerContextCancel(t *testing.T) {
	var g coalesce.Group[string, int]
	release := make(chan struct{})
	leaderDone := make(chan struct{})

	go func() {
		defer close(leaderDone)
		v, err := g.Do(context.Background(), "frank", func() (int, error) {
			<-release
			return 7, nil
		})
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}()

	// Wait for the leader to register.
	require.Eventually(t, func() bool { return g.Len() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Do(ctx, "frank", func() (int, error) {
		t.Fatal("follower must not execute fn")
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// Leader is unaffected by the follower's cancellation.
	close(release)
	<-leaderDone
}

func TestForget(t *testing.T) {
	var g coalesce.Group[string, int]
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = g.Do(context.Background(), "grace", func() (int, error) {
			<-release
			return 1, nil
		})
	}()
	require.Eventually(t, func() bool { return g.Len() == 1 }, time.Second, time.Millisecond)

	g.Forget("grace")
	require.Zero(t, g.Len())

	// A new call for the key runs independently of the forgotten one.
	v, err := g.Do(context.Background(), "grace", func() (int, error) {
		return 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, v)

	close(release)
	<-done
}
