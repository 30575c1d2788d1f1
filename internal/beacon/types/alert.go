package types

import "time"

type AlertKind string

const (
	AlertLocation AlertKind = "location"
	AlertBattery  AlertKind = "battery"
	AlertOffline  AlertKind = "offline"
	AlertAdmin    AlertKind = "admin"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertRecord is append-only; only Acknowledged ever changes.
type AlertRecord struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"deviceId"`
	Kind         AlertKind `json:"type"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	CreatedAt    time.Time `json:"createdAt"`
	Acknowledged bool      `json:"acknowledged"`
}

type DeviceAlertEvent struct {
	DeviceID string      `json:"deviceId"`
	Alert    AlertRecord `json:"alert"`
}

// LocationRecord is one point of location history.
type LocationRecord struct {
	DeviceID   string    `json:"deviceId"`
	Location   Location  `json:"location"`
	RecordedAt time.Time `json:"recordedAt"`
}
