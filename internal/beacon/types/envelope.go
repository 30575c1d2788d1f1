package types

import (
	"encoding/json"
	"time"
)

// Device → server events.
const (
	MsgDeviceRegistration = "device_registration"
	MsgHeartbeat          = "heartbeat"
	MsgConfirmation       = "confirmation"
	MsgStatusResponse     = "status_response"
	MsgPong               = "pong"
)

// Server → device events.
const (
	MsgAdminCommand          = "admin_command"
	MsgRegistrationConfirmed = "registration_confirmed"
	MsgHeartbeatAck          = "heartbeat_ack"
	MsgError                 = "error"
)

// Server → dashboard events.
const (
	EventDeviceList           = "device_list"
	EventDeviceConnected      = "device_connected"
	EventDeviceDisconnected   = "device_disconnected"
	EventDeviceUpdate         = "device_update"
	EventDeviceAlert          = "device_alert"
	EventDeviceConfirmation   = "device_confirmation"
	EventDeviceStatusResponse = "device_status_response"
	EventCommandStatus        = "command_status"
)

// Envelope is an inbound frame. Data is decoded once the event is known.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame. Timestamp is set on dashboard broadcasts.
type Message struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewEvent builds a timestamped dashboard message.
func NewEvent(event string, data any, at time.Time) Message {
	return Message{
		Event:     event,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

type DeviceRegistration struct {
	DeviceID   string     `json:"deviceId"`
	Type       string     `json:"type"`
	Name       string     `json:"name,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

type RegistrationAck struct {
	DeviceID   string `json:"deviceId"`
	ServerTime string `json:"serverTime"`
}

type HeartbeatRequest struct {
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp,omitempty"`
}

type HeartbeatAck struct {
	Known      bool   `json:"known"`
	ServerTime string `json:"serverTime"`
}

type Confirmation struct {
	DeviceID  string          `json:"deviceId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type StatusResponse struct {
	DeviceID   string          `json:"deviceId"`
	RequestID  string          `json:"requestId,omitempty"`
	Status     json.RawMessage `json:"status,omitempty"`
	Location   json.RawMessage `json:"location,omitempty"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
}

type Pong struct {
	DeviceID  string `json:"deviceId"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type DeviceConnectionEvent struct {
	DeviceID    string     `json:"deviceId"`
	Type        DeviceType `json:"type"`
	ConnectedAt time.Time  `json:"connectedAt"`
	Reason      string     `json:"reason,omitempty"`
}

type DeviceUpdateEvent struct {
	DeviceID string       `json:"deviceId"`
	Location Location     `json:"location"`
	Status   DeviceStatus `json:"status"`
	Type     DeviceType   `json:"type"`
}

// LocationUpdate is the body of POST /devices/location.
type LocationUpdate struct {
	DeviceID   string        `json:"deviceId" validate:"required,max=128"`
	Type       string        `json:"type,omitempty" validate:"omitempty,oneof=desktop mobile gps_tracker"`
	Name       string        `json:"name,omitempty" validate:"max=200"`
	Location   *Location     `json:"location" validate:"required"`
	Status     *DeviceStatus `json:"status,omitempty"`
	DeviceInfo *DeviceInfo   `json:"deviceInfo,omitempty"`
}
