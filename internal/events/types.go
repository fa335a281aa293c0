// Package events provides event management functionality.
package events

// EventType represents different event types
type EventType string

const (
	RunQueued     EventType = "RUN_QUEUED"
	RunStarted    EventType = "RUN_STARTED"
	RunCompleted  EventType = "RUN_COMPLETED"
	RunFailed     EventType = "RUN_FAILED"
	ExecStarted   EventType = "EXEC_STARTED"
	ExecFinished  EventType = "EXEC_FINISHED"
	EpochRecorded EventType = "EPOCH_RECORDED"

	ProblemLoaded  EventType = "PROBLEM_LOADED"
	ProblemRemoved EventType = "PROBLEM_REMOVED"

	BaselineReady EventType = "BASELINE_READY"

	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)
