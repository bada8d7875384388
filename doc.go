/*
Package logthrottle provides a generic, type-safe throttle that folds bursts of
near-duplicate log records into a single aggregated report.

It is designed for client code that would otherwise flood a downstream sink
(console, log collector, metrics system) with the same message over and over.
Records are handed to the throttle one at a time. The throttle keeps a single
pending window holding the most recent record and a repeat count, and reports
that window once a quiet period passes without anything superseding it.

Key Features:

  - **Type-Safe with Generics:** Instantiate a Throttle for any record type and
    receive the same type back in the reported Envelope.
  - **Duplicate Folding:** Records judged duplicates by the DiffFunc within the
    quiet period are merged and counted instead of reported individually.
  - **Bounded Runs:** A run of duplicates that spans more than the delay is
    reported and restarted, so no report hides an unbounded stretch of time.
  - **Injectable Clock:** Time and timers come from k8s.io/utils/clock, which
    makes the throttle fully deterministic under a fake clock.
  - **Clean Shutdown:** Flush reports the pending window immediately and Stop
    cancels the outstanding timer so nothing leaks.

Usage:

The following example deduplicates string messages and reports them through a
zap logger from the sink package.

	logger := zap.Must(zap.NewProduction())

	throttle, err := logthrottle.New(
		logthrottle.WithDelay[string](2*time.Second),
		logthrottle.WithDiff(logthrottle.Equal[string]),
		logthrottle.WithReport(sink.Zap[string](logger, "connection error")),
	)
	if err != nil {
		return err
	}
	defer throttle.Flush()

	for i := 0; i < 100; i++ {
		throttle.Add("dial tcp 10.0.0.7:443: connection refused")
	}
	// Two seconds later a single entry is logged with repeat_count=100.
*/
package logthrottle
