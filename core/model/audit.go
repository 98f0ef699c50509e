package model

import "time"

// Audit levels.
const (
	AuditInfo  = "INFO"
	AuditWarn  = "WARN"
	AuditError = "ERROR"
)

// Audit event types emitted by the core components.
const (
	AuditAuthentication  = "AUTHENTICATION"
	AuditFloorSelection  = "FLOOR_SELECTION"
	AuditTagProcessing   = "UID_PROCESSING"
	AuditRawScan         = "RAW_SCAN"
	AuditCommandResult   = "COMMAND_RESULT"
	AuditHallReading     = "HALL_READING"
	AuditDispense        = "DISPENSE"
	AuditRestock         = "RESTOCK"
	AuditPlacement       = "PLACEMENT"
	AuditProductOp       = "PRODUCT_OPERATION"
	AuditWebTransaction  = "WEBSITE_TRANSACTION"
	AuditConfigPush      = "CONFIG_PUSH"
	AuditManualCommand   = "MANUAL_COMMAND"
	AuditDeviceConnected = "DEVICE_CONNECTION"
)

// AuditEntry is one audit-log row. Every entry belonging to a logical
// operation carries that operation's transaction id so the full causal chain
// can be reconstructed from the log alone.
type AuditEntry struct {
	Time          time.Time `json:"time" db:"time"`
	Level         string    `json:"level" db:"level"`
	Message       string    `json:"message" db:"message"`
	Source        string    `json:"source" db:"source"`
	Type          string    `json:"type" db:"type"`
	TransactionID string    `json:"transaction_id,omitempty" db:"transaction_id"`
}
