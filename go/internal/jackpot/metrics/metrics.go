// Package metrics records sync-engine health.
package metrics

import (
	"time"
)

// Collector defines the metrics the sync engine reports
type Collector interface {
	RecordPoll(result string, duration time.Duration)
	RecordRefresh(kind string, success bool, duration time.Duration)
	RecordNotification(event string)
	RecordDecodeSkip(event string)
	RecordExtension()
	RecordAction(action string, result string)
	RecordViewClients(count int)
}

// Poll results
const (
	PollApplied    = "applied"
	PollSuperseded = "superseded"
	PollFailed     = "failed"
)

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordPoll(result string, duration time.Duration)                {}
func (NoOp) RecordRefresh(kind string, success bool, duration time.Duration) {}
func (NoOp) RecordNotification(event string)                                 {}
func (NoOp) RecordDecodeSkip(event string)                                   {}
func (NoOp) RecordExtension()                                                {}
func (NoOp) RecordAction(action string, result string)                       {}
func (NoOp) RecordViewClients(count int)                                     {}

// OrNoOp returns c, or NoOp when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOp{}
	}
	return c
}
