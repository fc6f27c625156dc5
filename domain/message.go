// Package domain contains core concepts of the chat system.
// This file defines Message values and the notices emitted on joins and departures.
// Messages are immutable once written to the shared log.
package domain

import (
	"fmt"
	"time"
)

// ServerAuthor is the author name stamped on every server-originated message.
const ServerAuthor = "SERVER"

type Origin uint32

const (
	FromClient Origin = iota
	FromServer
)

func (o Origin) String() string {
	switch o {
	case FromServer:
		return "server"
	case FromClient:
		return "client"
	default:
		return fmt.Sprintf("origin(%d)", uint32(o))
	}
}

// Message represents an immutable chat entry copied out of the shared log.
type Message struct {
	Author    string
	Body      string
	CreatedAt time.Time
	Origin    Origin
}

// IsBroadcast reports whether the message was written on behalf of the server.
func (m Message) IsBroadcast() bool {
	return m.Origin == FromServer
}

func JoinNotice(name string) string {
	return name + " has joined the chat."
}

func LeaveNotice(name string) string {
	return name + " has left the chat."
}
