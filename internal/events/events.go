// Package events provides the in-process event bus and typed event data.
package events

import "time"

// EventType identifies a kind of event on the bus.
type EventType string

const (
	RunStarted        EventType = "run.started"
	RunCompleted      EventType = "run.completed"
	RunFailed         EventType = "run.failed"
	AssetEvaluated    EventType = "run.asset_evaluated"
	RiskStatusChanged EventType = "risk.status_changed"
	OrdersExpired     EventType = "orders.expired"
	BackupCompleted   EventType = "backup.completed"
)

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Event is a single emitted event.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID   string `json:"run_id"`
	RunDate string `json:"run_date"`
	Assets  int    `json:"assets"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType { return RunStarted }

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID      string  `json:"run_id"`
	RunDate    string  `json:"run_date"`
	Signals    int     `json:"signals"`
	NoTrades   int     `json:"no_trades"`
	DurationMs float64 `json:"duration_ms"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType { return RunCompleted }

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

// EventType returns the event type for RunFailedData
func (d *RunFailedData) EventType() EventType { return RunFailed }

// AssetEvaluatedData contains data for AssetEvaluated events
type AssetEvaluatedData struct {
	RunID     string   `json:"run_id"`
	AssetID   string   `json:"asset_id"`
	Outcome   string   `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	Composite *float64 `json:"composite,omitempty"`
}

// EventType returns the event type for AssetEvaluatedData
func (d *AssetEvaluatedData) EventType() EventType { return AssetEvaluated }

// RiskStatusChangedData contains data for RiskStatusChanged events
type RiskStatusChangedData struct {
	Old      string  `json:"old"`
	New      string  `json:"new"`
	Drawdown float64 `json:"drawdown"`
}

// EventType returns the event type for RiskStatusChangedData
func (d *RiskStatusChangedData) EventType() EventType { return RiskStatusChanged }

// OrdersExpiredData contains data for OrdersExpired events
type OrdersExpiredData struct {
	Count int `json:"count"`
}

// EventType returns the event type for OrdersExpiredData
func (d *OrdersExpiredData) EventType() EventType { return OrdersExpired }

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Archive   string `json:"archive"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType { return BackupCompleted }
