package reactors

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/paddymahoney/reactors/rlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_StopsConsumingAtLimit(t *testing.T) {
	newState := NewBudget(3)
	st := newState()
	f := &Frame{}

	st.OnBatchStart(f)
	assert.True(t, st.OnBatchEvent(f))
	assert.True(t, st.OnBatchEvent(f))
	assert.False(t, st.OnBatchEvent(f))
}

func TestBudget_DefaultsWhenNonPositive(t *testing.T) {
	st := NewBudget(0)().(*Budget)
	assert.Equal(t, DefaultBatchBudget, st.limit)
}

func TestPoolScheduler_ThrottledErrorsStillLoggedAtDebug(t *testing.T) {
	var buf bytes.Buffer
	var reported int
	p := NewPoolScheduler(1,
		WithErrorHandler(func(error) { reported++ }),
		WithPoolLogger(rlog.New(logiface.LevelDebug, &buf)),
	)

	// The throttle allows 5 reports per category per second; the rest
	// must skip onError but land in the debug log.
	for i := 0; i < 8; i++ {
		p.HandleError(&HandlerError{FrameName: "crashy", Err: errors.New("boom")})
	}

	assert.Equal(t, 5, reported)
	assert.Contains(t, buf.String(), "error report throttled")
	assert.Contains(t, buf.String(), "category=handler")
}

func TestNewThreadScheduler_RunsOnSeparateGoroutine(t *testing.T) {
	sys := NewSystem(WithDefaultScheduler("new-thread", NewNewThreadScheduler(nil)))

	done := make(chan struct{})
	ch, err := Spawn(sys, Proto[int]{
		Factory: func(ctx *Context[int]) (any, error) {
			ctx.OnMainEvent(func(int) { close(done) })
			return nil, nil
		},
	})
	require.NoError(t, err)

	ch.Send(1)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestTimerScheduler_PeriodRewakesFrame(t *testing.T) {
	pb := NewPiggybackScheduler(nil)
	ts := NewTimerScheduler(pb)
	sys := NewSystem(WithDefaultScheduler("timer", ts))

	var ticks atomic.Int32
	ch, err := Spawn(sys, Proto[int]{
		Factory: func(ctx *Context[int]) (any, error) {
			ctx.OnSystemEvent(func(ev LifecycleEvent) {
				if ev.Kind == EventScheduled {
					ticks.Add(1)
				}
			})
			return nil, nil
		},
	})
	require.NoError(t, err)

	ts.Period(ch.conn.frame, 10*time.Millisecond)
	defer ts.StopPeriod(ch.conn.frame.UID())

	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, 2*time.Second, time.Millisecond)
}
