// Package shm implements the chat protocol over a block of memory shared by
// independent processes: a ring of messages, a table of client records, one
// spinlock per table and the flags that tie the server and its clients together.
//
// Nothing in this package allocates or frees the shared block. A Region is a
// handle borrowed over memory owned by the OS segment, and several handles may
// view the same block, which is how tests simulate separate processes.
package shm

import (
	"sync/atomic"
	"unsafe"
)

// Layout constants. Every process built from this package computes the same
// Size and the same field offsets.
const (
	CapacityM = 1000
	CapacityC = 50

	NameSize = 32
	BodySize = 512

	// MaxNameLen and MaxBodyLen leave room for the NUL terminator.
	MaxNameLen = NameSize - 1
	MaxBodyLen = BodySize - 1

	LayoutVersion = uint32(1)
)

var magic = [8]byte{'S', 'H', 'M', 'C', 'H', 'A', 'T', 0}

// header precedes the tables and is 64 bytes wide.
type header struct {
	magic      [8]byte       // 0x00
	version    atomic.Uint32 // 0x08
	size       atomic.Uint32 // 0x0C
	creatorPID atomic.Uint32 // 0x10
	_          uint32        // 0x14
	createdAt  atomic.Int64  // 0x18 unix nanoseconds
	sequence   atomic.Uint64 // 0x20 appends since format
	_          [24]byte      // 0x28-0x3F
}

// slot is one fixed-width message in the ring.
type slot struct {
	author    [NameSize]byte
	body      [BodySize]byte
	createdAt int64
	origin    uint32
	_         uint32
}

// record is one fixed-width client registration.
type record struct {
	name         [NameSize]byte
	connected    uint32
	_            uint32
	lastActivity int64
}

// layout is the whole shared region. Field order is part of the wire format.
type layout struct {
	header header

	messages     [CapacityM]slot
	messageCount atomic.Int32
	readIndex    atomic.Int32
	writeIndex   atomic.Int32
	messagesLock SpinLock

	clients     [CapacityC]record
	clientsLock SpinLock
	clientCount atomic.Int32

	serverRunning    atomic.Bool
	broadcastPending atomic.Bool
}

// Size is the number of bytes every participant maps.
const Size = int(unsafe.Sizeof(layout{}))

// putString copies s into a fixed-width field and NUL-terminates it.
// Callers have already checked that s fits.
func putString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

// getString reads a NUL-terminated fixed-width field.
func getString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

// equalName compares a stored name with s without allocating.
func equalName(field *[NameSize]byte, s string) bool {
	if len(s) > MaxNameLen {
		return false
	}
	if field[len(s)] != 0 {
		return false
	}
	return string(field[:len(s)]) == s
}
