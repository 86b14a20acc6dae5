package bdx

// blockCounter tracks the strictly sequential, 32-bit wrapping block counter
// defined in Spec Section 11.4.3 ("BlockCounter wraps at 2^32 and always
// starts at 1 for the first Block/BlockQuery of a transfer").
type blockCounter struct {
	next      uint32
	started   bool
}

func newBlockCounter() *blockCounter {
	return &blockCounter{next: 1}
}

// Peek returns the counter value that the next outbound message should carry,
// without consuming it.
func (c *blockCounter) Peek() uint32 {
	return c.next
}

// Advance consumes the current counter value and returns the next one
// (wrapping modulo 2^32, per spec).
func (c *blockCounter) Advance() uint32 {
	cur := c.next
	c.next++ // wraps naturally: uint32 overflow is modulo 2^32
	c.started = true
	return cur
}

// Validate checks that an inbound counter is exactly the expected next value.
func (c *blockCounter) Validate(got uint32) error {
	if got != c.next {
		return NewError(StatusBadBlockCounter, nil)
	}
	return nil
}
