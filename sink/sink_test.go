package sink

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/jonoton/go-logthrottle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)

func envelope(payload string, count int) *logthrottle.Envelope[string] {
	return &logthrottle.Envelope[string]{
		AddedAt:     t0,
		ReportedAt:  t0.Add(5 * time.Second),
		RepeatCount: count,
		Payload:     payload,
	}
}

func TestZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	report := Zap[string](zap.New(core), "repeated error")

	report(envelope("disk full", 3))

	entries := logs.FilterMessage("repeated error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "disk full", fields["payload"])
	assert.Equal(t, int64(3), fields["repeat_count"])
	assert.Equal(t, t0, fields["added_at"])
	assert.Equal(t, t0.Add(5*time.Second), fields["reported_at"])
	assert.Equal(t, 5*time.Second, fields["span"])
}

func TestZap_Options(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	warn := Zap[string](logger, "warned", WithLevel(zapcore.WarnLevel), WithPayloadKey("msg"))
	warn(envelope("x", 1))

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "x", entries[0].ContextMap()["msg"])

	// Disabled levels are skipped entirely.
	debug := Zap[string](logger, "hidden", WithLevel(zapcore.DebugLevel))
	debug(envelope("y", 1))
	assert.Equal(t, 0, logs.Len())
}

func TestZapTracef(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracef := ZapTracef(zap.New(core))

	tracef("window %s repeat=%d", "open", 2)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "window open repeat=2", entries[0].Message)
}

func TestPrometheus(t *testing.T) {
	p := NewPrometheus[string]("app", "logthrottle")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(p))

	p.Report(envelope("a", 1))
	p.Report(envelope("b", 4))

	assert.Equal(t, float64(2), testutil.ToFloat64(p.reports))
	assert.Equal(t, float64(5), testutil.ToFloat64(p.records))
	assert.Equal(t, 3, testutil.CollectAndCount(p))

	n, err := testutil.GatherAndCount(reg, "app_logthrottle_reports_total", "app_logthrottle_records_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMulti(t *testing.T) {
	var order []string
	first := func(env *logthrottle.Envelope[string]) { order = append(order, "first:"+env.Payload) }
	second := func(env *logthrottle.Envelope[string]) { order = append(order, "second:"+env.Payload) }

	report := Multi[string](first, nil, second)
	report(envelope("x", 1))

	assert.Equal(t, []string{"first:x", "second:x"}, order)
}

// TestThrottleWithSinks wires the sinks into a throttle end to end.
func TestThrottleWithSinks(t *testing.T) {
	clk := testingclock.NewFakeClock(t0)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	metrics := NewPrometheus[string]("app", "")

	th, err := logthrottle.New(
		logthrottle.WithDelay[string](time.Second),
		logthrottle.WithDiff(logthrottle.Equal[string]),
		logthrottle.WithClock[string](clk),
		logthrottle.WithTracef[string](ZapTracef(logger.Named("trace"))),
		logthrottle.WithReport(Multi(Zap[string](logger, "throttled"), metrics.Report)),
	)
	require.NoError(t, err)
	defer th.Stop()

	for i := 0; i < 10; i++ {
		th.Add("timeout talking to upstream")
	}
	clk.Step(time.Second)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("throttled").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("throttled").All()[0]
	assert.Equal(t, int64(10), entry.ContextMap()["repeat_count"])
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.records))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.reports))
	assert.NotZero(t, logs.FilterLoggerName("trace").Len())
	assert.Equal(t, uint64(1), th.TotalReported())
}

// TestChan verifies envelopes are queued without blocking and dropped once
// the buffer is full.
func TestChan(t *testing.T) {
	c := NewChan[string](2)

	c.Report(envelope("a", 1))
	c.Report(envelope("b", 1))
	c.Report(envelope("c", 1))
	assert.Equal(t, uint64(1), c.Dropped())

	assert.Equal(t, "a", (<-c.Output()).Payload)
	assert.Equal(t, "b", (<-c.Output()).Payload)
}

// TestChan_Close verifies the output channel is closed and later reports
// are dropped instead of panicking.
func TestChan_Close(t *testing.T) {
	c := NewChan[string](0)
	c.Report(envelope("a", 1))
	c.Close()
	c.Close()

	env, ok := <-c.Output()
	require.True(t, ok)
	assert.Equal(t, "a", env.Payload)

	select {
	case _, ok := <-c.Output():
		assert.False(t, ok, "output channel should be closed after Close()")
	case <-time.After(time.Second):
		t.Fatal("output channel was not closed")
	}

	c.Report(envelope("b", 1))
	assert.Equal(t, uint64(1), c.Dropped())
}
