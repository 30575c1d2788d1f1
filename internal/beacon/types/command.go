package types

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidCommand = errors.New("unsupported command or invalid parameters")

// CommandName is the closed set of operations a device agent understands.
// There is no opcode for arbitrary shell input.
type CommandName string

const (
	CommandShowMessage      CommandName = "show_message"
	CommandSendNotification CommandName = "send_notification"
	CommandGetStatus        CommandName = "get_status"
	CommandLockScreen       CommandName = "lock_screen"
	CommandPing             CommandName = "ping"
)

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	// CommandQueued waits for a polling agent to fetch it.
	CommandQueued    CommandStatus = "queued"
	CommandDelivered CommandStatus = "delivered"
	CommandExecuted  CommandStatus = "executed"
	CommandFailed    CommandStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CommandStatus) Terminal() bool {
	return s == CommandExecuted || s == CommandFailed
}

type ShowMessageParams struct {
	Title   string `json:"title" validate:"required,max=120"`
	Message string `json:"message" validate:"required,max=2000"`
}

type NotificationParams struct {
	Title string `json:"title" validate:"required,max=120"`
	Body  string `json:"body" validate:"max=2000"`
}

// NoParams is sent for opcodes that take no arguments.
type NoParams struct{}

// Command is one typed instruction for a device.
type Command struct {
	Name   CommandName
	Params any
}

// ParamsFor returns a fresh, zero-valued params struct for the opcode, or
// false when the opcode is unknown.
func ParamsFor(name CommandName) (any, bool) {
	switch name {
	case CommandShowMessage:
		return &ShowMessageParams{}, true
	case CommandSendNotification:
		return &NotificationParams{}, true
	case CommandGetStatus, CommandLockScreen, CommandPing:
		return &NoParams{}, true
	default:
		return nil, false
	}
}

// AdminCommand is the payload of the server → device admin_command frame.
type AdminCommand struct {
	Command   CommandName `json:"command"`
	Payload   any         `json:"payload"`
	RequestID string      `json:"requestId"`
}

func NewAdminCommand(name CommandName, payload any, requestID string) AdminCommand {
	if payload == nil {
		payload = NoParams{}
	}
	return AdminCommand{
		Command:   name,
		Payload:   payload,
		RequestID: requestID,
	}
}

// CommandRecord is the persisted history entry for one issued command.
type CommandRecord struct {
	RequestID  string          `json:"requestId"`
	DeviceID   string          `json:"deviceId"`
	Command    CommandName     `json:"command"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IssuedAt   time.Time       `json:"issuedAt"`
	Status     CommandStatus   `json:"status"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
}

// CommandStatusEvent is broadcast to dashboards whenever a command settles.
type CommandStatusEvent struct {
	RequestID string        `json:"requestId"`
	DeviceID  string        `json:"deviceId"`
	Command   CommandName   `json:"command"`
	Status    CommandStatus `json:"status"`
}
