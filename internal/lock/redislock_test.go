package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithCartLockSerialises(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locker.WithCartLock(ctx, "store-1", "order-1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		errs <- locker.WithCartLock(ctx, "store-1", "order-1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestLockReleasedAfterError(t *testing.T) {
	locker, mr := newLocker(t)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}

func TestWithLockGivesUpWhenContextEnds(t *testing.T) {
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set(lock.CartKey("s", "o"), "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithCartLock(ctx, "s", "o", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := mr.Get(lock.CartKey("s", "o"))
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestCartKeyIsStoreScoped(t *testing.T) {
	require.Equal(t, "store-1:lock:cart:order-9", lock.CartKey("store-1", "order-9"))
}

func TestLockerNotConfigured(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotConfigured)
}
