package usecase

import "time"

// SearchObserver receives per-stage timings and soft-failure notices.
type SearchObserver interface {
	ObserveStage(stage string, duration time.Duration)
	RecordDegradation(stage, reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) RecordDegradation(string, string)   {}
