package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListener_HandlesInputsInOrder(t *testing.T) {
	in := make(chan int)
	out := make(chan int, 3)

	l := New("test", in, func(v int) error {
		out <- v
		return nil
	})
	l.Start(context.Background())
	defer l.Stop()

	for i := 1; i <= 3; i++ {
		in <- i
	}
	for i := 1; i <= 3; i++ {
		require.Equal(t, i, <-out)
	}
}

func TestListener_ErrorsDoNotStopTheLoop(t *testing.T) {
	in := make(chan int)
	var handled atomic.Int32

	l := New("test", in, func(v int) error {
		handled.Add(1)
		return errors.New("boom")
	})
	l.Start(context.Background())

	in <- 1
	in <- 2
	l.Stop()

	require.Equal(t, int32(2), handled.Load())
}

func TestListener_StopRunsHandlerOnce(t *testing.T) {
	var stopped atomic.Int32
	l := New("test", make(chan int), func(int) error { return nil }, func() { stopped.Add(1) })
	l.Start(context.Background())

	l.Stop()
	l.Stop()

	require.Equal(t, int32(1), stopped.Load())
}

func TestListener_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New("test", make(chan int), func(int) error { return nil })
	l.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after context cancel")
	}
}
