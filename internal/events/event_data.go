package events

import "encoding/json"

// EventData is the interface that all typed event payloads implement.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID   string `json:"run_id"`
	Problem string `json:"problem"`
	NumExec int    `json:"num_exec"`
}

func (d *RunStartedData) EventType() EventType { return RunStarted }

// EpochRecordedData contains data for EpochRecorded events
type EpochRecordedData struct {
	RunID    string  `json:"run_id"`
	Exec     int     `json:"exec"`
	Epoch    int     `json:"epoch"`
	Cost     float64 `json:"cost"`
	BestCost float64 `json:"best_cost"`
}

func (d *EpochRecordedData) EventType() EventType { return EpochRecorded }

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID    string   `json:"run_id"`
	Problem  string   `json:"problem"`
	BestCost float64  `json:"best_cost"`
	RawCost  float64  `json:"raw_cost"`
	Feasible bool     `json:"feasible"`
	Gap      *float64 `json:"gap,omitempty"`
}

func (d *RunCompletedData) EventType() EventType { return RunCompleted }

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

func (d *RunFailedData) EventType() EventType { return RunFailed }

// ProblemLoadedData contains data for ProblemLoaded events
type ProblemLoadedData struct {
	Name      string `json:"name"`
	Variables int    `json:"variables"`
	Source    string `json:"source"`
}

func (d *ProblemLoadedData) EventType() EventType { return ProblemLoaded }

// BaselineReadyData contains data for BaselineReady events
type BaselineReadyData struct {
	Problem  string  `json:"problem"`
	Cost     float64 `json:"cost"`
	Source   string  `json:"source"`
	Feasible bool    `json:"feasible"`
}

func (d *BaselineReadyData) EventType() EventType { return BaselineReady }

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// ToMap converts typed event data to the map form the bus carries.
func ToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return result
}

// EmitTyped marshals typed data and publishes it on the bus.
func EmitTyped(bus *Bus, module string, data EventData) {
	if bus == nil || data == nil {
		return
	}
	bus.Emit(data.EventType(), module, ToMap(data))
}
