package metrics

import "time"

// Recorder 工作流指标
type Recorder interface {
	TxSubmitted(kind string)
	TxConfirmed(kind, status string, wait time.Duration)
	WorkflowFinished(workflow, outcome string)
	RefreshFinished(ok bool, duration time.Duration, count int)
	ErrorHandled(errorType string)
}

// NoopRecorder 不记录任何指标
type NoopRecorder struct{}

func (NoopRecorder) TxSubmitted(string)                        {}
func (NoopRecorder) TxConfirmed(string, string, time.Duration) {}
func (NoopRecorder) WorkflowFinished(string, string)           {}
func (NoopRecorder) RefreshFinished(bool, time.Duration, int)  {}
func (NoopRecorder) ErrorHandled(string)                       {}
