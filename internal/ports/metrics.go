package ports

import "time"

type Metrics interface {
	FlowStatusChanged(from, to string)
	TaskStarted(source string)
	TaskFinished(source, status string, d time.Duration)
	AdmissionDenied(class string)
	Retry(source string)
	RateLimitWait(service string, d time.Duration)
	ItemsFetched(source string, n int)
}

type NoopMetrics struct{}

func (NoopMetrics) FlowStatusChanged(string, string)           {}
func (NoopMetrics) TaskStarted(string)                         {}
func (NoopMetrics) TaskFinished(string, string, time.Duration) {}
func (NoopMetrics) AdmissionDenied(string)                     {}
func (NoopMetrics) Retry(string)                               {}
func (NoopMetrics) RateLimitWait(string, time.Duration)        {}
func (NoopMetrics) ItemsFetched(string, int)                   {}
