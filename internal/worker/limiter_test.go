package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func Test_Limiter_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(5)

	returnCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			returnCh <- struct{}{}
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < count; i++ {
		<-returnCh
	}

	limiter.StopWait()
}

func Test_Limiter_Run_limits(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(3)

	returnCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			<-returnCh
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// add another func exceeding concurrency limit of 3
	err := limiter.Dispatch(func() {
		t.Error("expected limiter to limit concurrency")
	})
	if err == nil {
		t.Fatal("expected limiter to limit concurrency, by returning an error")
	}

	assert.ErrorIs(t, err, ErrLimiterConcurrency)

	// unblock routines
	for i := 0; i < count; i++ {
		returnCh <- struct{}{}
	}

	limiter.StopWait()
}

func Test_Limiter_Active(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(5)

	// release causes the job to return
	releaseCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			<-releaseCh
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// test active jobs are as expected
	assert.Equal(t, count, limiter.ActiveCount())

	for i := 0; i < count; i++ {
		// cause job to return
		releaseCh <- struct{}{}
	}

	limiter.StopWait()

	assert.Equal(t, 0, limiter.ActiveCount())
}

func Test_Limiter_StopWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(5)

	returnCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			time.Sleep(100 * time.Millisecond)
			returnCh <- struct{}{}
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		limiter.StopWait()
		close(stopped)
	}()

	require.Eventually(t, limiter.draining, time.Second, time.Millisecond)

	err := limiter.Dispatch(func() {
		t.Error("expected limiter to not accept methods in after StopWait()")
	})
	if err == nil {
		t.Fatal("expected limiter to not accept methods in after StopWait()")
	}

	assert.ErrorIs(t, err, ErrLimiterDrain)

	for i := 0; i < count; i++ {
		<-returnCh
	}

	<-stopped
}

func Test_Limiter_DispatchWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(2)

	ran := make(chan int, 6)

	for i := 0; i < 6; i++ {
		i := i
		err := limiter.DispatchWait(context.Background(), func() {
			time.Sleep(10 * time.Millisecond)
			ran <- i
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, limiter.ActiveCount(), 2)
	}

	limiter.StopWait()
	close(ran)

	got := []int{}
	for i := range ran {
		got = append(got, i)
	}

	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, got)
}

func Test_Limiter_DispatchWait_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(1)

	releaseCh := make(chan struct{})
	require.NoError(t, limiter.Dispatch(func() { <-releaseCh }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.DispatchWait(ctx, func() {
		t.Error("expected the dispatch to be abandoned")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(releaseCh)
	limiter.StopWait()
}
