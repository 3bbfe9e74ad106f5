package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
	// ToMap converts the payload to the generic map carried on the bus
	ToMap() map[string]interface{}
}

// toMap round-trips a payload through JSON to produce the generic map form.
func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID      string `json:"run_id"`
	Experiment string `json:"experiment"`
	Backend    string `json:"backend"`
	Shots      int    `json:"shots"`
	Points     int    `json:"points"`
}

func (d *RunStartedData) EventType() EventType          { return RunStarted }
func (d *RunStartedData) ToMap() map[string]interface{} { return toMap(d) }

// RunProgressData contains data for RunProgress events
type RunProgressData struct {
	RunID   string `json:"run_id"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

func (d *RunProgressData) EventType() EventType          { return RunProgress }
func (d *RunProgressData) ToMap() map[string]interface{} { return toMap(d) }

// MeasurementRecordedData contains data for MeasurementRecorded events
type MeasurementRecordedData struct {
	RunID      string  `json:"run_id"`
	QTarget    float64 `json:"q_target"`
	QMeasured  float64 `json:"q_measured"`
	CqcTheory  float64 `json:"c_qc_theory"`
	CqcMeasure float64 `json:"c_qc_measured"`
	Residual   float64 `json:"residual"`
}

func (d *MeasurementRecordedData) EventType() EventType          { return MeasurementRecorded }
func (d *MeasurementRecordedData) ToMap() map[string]interface{} { return toMap(d) }

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID      string  `json:"run_id"`
	Experiment string  `json:"experiment"`
	Passed     bool    `json:"passed"`
	Duration   float64 `json:"duration_seconds"`
}

func (d *RunCompletedData) EventType() EventType          { return RunCompleted }
func (d *RunCompletedData) ToMap() map[string]interface{} { return toMap(d) }

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

func (d *RunFailedData) EventType() EventType          { return RunFailed }
func (d *RunFailedData) ToMap() map[string]interface{} { return toMap(d) }

// BackendStatusChangedData contains data for BackendStatusChanged events
type BackendStatusChangedData struct {
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

func (d *BackendStatusChangedData) EventType() EventType          { return BackendStatusChanged }
func (d *BackendStatusChangedData) ToMap() map[string]interface{} { return toMap(d) }

// DriftDetectedData contains data for DriftDetected events
type DriftDetectedData struct {
	Backend   string  `json:"backend"`
	EMA       float64 `json:"ema_abs_error"`
	Threshold float64 `json:"threshold"`
}

func (d *DriftDetectedData) EventType() EventType          { return DriftDetected }
func (d *DriftDetectedData) ToMap() map[string]interface{} { return toMap(d) }

// SettingsChangedData contains data for SettingsChanged events
type SettingsChangedData struct {
	Key string `json:"key"`
}

func (d *SettingsChangedData) EventType() EventType          { return SettingsChanged }
func (d *SettingsChangedData) ToMap() map[string]interface{} { return toMap(d) }

// JobCompletedData contains data for JobCompleted events
type JobCompletedData struct {
	JobName   string    `json:"job_name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *JobCompletedData) EventType() EventType          { return JobCompleted }
func (d *JobCompletedData) ToMap() map[string]interface{} { return toMap(d) }
