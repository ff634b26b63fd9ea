package rtshare

import (
	"fmt"

	"go.uber.org/atomic"
)

// ConnStats keeps track of both currently open and total session counts for a proxy
type ConnStats struct {
	count atomic.Int32
	open  atomic.Int32
}

// New adds one to the total count and returns the new total, which doubles
// as a session sequence number
func (c *ConnStats) New() int32 {
	return c.count.Inc()
}

// Open adds one to the current open count
func (c *ConnStats) Open() {
	c.open.Inc()
}

// Close subtracts one from the current open count
func (c *ConnStats) Close() {
	c.open.Dec()
}

// OpenCount returns the number of sessions currently open
func (c *ConnStats) OpenCount() int {
	return int(c.open.Load())
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", c.open.Load(), c.count.Load())
}
