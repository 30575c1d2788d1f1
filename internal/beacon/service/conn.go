package service

import (
	"errors"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var (
	ErrInvalidDeviceID = errors.New("deviceId is required")
	ErrUnknownRequest  = errors.New("unknown request id")
)

// Conn is one live transport handle. Send must not block on the network;
// implementations queue the frame or fail fast.
type Conn interface {
	ID() string
	Send(msg types.Message) error
	Close() error
}

// EventSink fans events out to every dashboard client.
type EventSink interface {
	Broadcast(event string, payload any) int
	Count() int
}

// DeviceLister supplies the current connection snapshot.
type DeviceLister interface {
	List() []types.DeviceSummary
}
