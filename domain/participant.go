// Package domain contains core concepts of the chat system.
// This file defines client records and the outcomes of registry and call-surface operations.
// No runtime, shared-memory or UI logic should be added here.
package domain

import "time"

// ClientRecord is a copy of a connected registry slot.
// Its identity is the name, never the slot index.
type ClientRecord struct {
	Name         string
	LastActivity time.Time
}

// RegisterResult and the other outcome enums below are only meaningful
// when the call that returned them reported a nil error.
type RegisterResult int

const (
	Registered RegisterResult = iota
	Duplicate
	Full
)

func (r RegisterResult) String() string {
	switch r {
	case Registered:
		return "registered"
	case Duplicate:
		return "duplicate"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

type UnregisterResult int

const (
	Removed UnregisterResult = iota
	NotFound
)

func (r UnregisterResult) String() string {
	if r == Removed {
		return "removed"
	}
	return "not_found"
}

type ConnectResult int

const (
	ConnectOK ConnectResult = iota
	ConnectTaken
	ConnectFull
	ConnectServerUnavailable
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectOK:
		return "ok"
	case ConnectTaken:
		return "taken"
	case ConnectFull:
		return "full"
	case ConnectServerUnavailable:
		return "server_unavailable"
	default:
		return "unknown"
	}
}

type SendResult int

const (
	SendOK SendResult = iota
	SendTooLong
	SendNotConnected
	SendEmpty
)

func (r SendResult) String() string {
	switch r {
	case SendOK:
		return "ok"
	case SendTooLong:
		return "too_long"
	case SendNotConnected:
		return "not_connected"
	case SendEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
