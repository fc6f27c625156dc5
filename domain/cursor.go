package domain

// Cursor is a reader-private position in the message ring.
// Seq counts every append since the region was formatted, so the slot
// it designates is Seq modulo the ring capacity.
type Cursor struct {
	Seq uint64
}

// Drain is the result of reading a ring forward from a cursor.
type Drain struct {
	Messages []Message
	Next     Cursor
	// Skipped counts messages overwritten before this reader could see them.
	Skipped uint64
}
