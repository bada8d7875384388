package sink

import "github.com/jonoton/go-logthrottle"

// Multi returns a report function that passes each envelope to every sink in
// order. Nil sinks are skipped.
func Multi[T any](sinks ...logthrottle.ReportFunc[T]) logthrottle.ReportFunc[T] {
	live := make([]logthrottle.ReportFunc[T], 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return func(env *logthrottle.Envelope[T]) {
		for _, s := range live {
			s(env)
		}
	}
}
