package witness

// Completed tracks finished request ids. A contiguous run of ids collapses
// into a [low, watermark] range so memory stays bounded while requests
// complete roughly in order.
type Completed struct {
	hasRun    bool
	low       uint64
	watermark uint64
	above     map[uint64]struct{}
}

func NewCompleted() *Completed {
	return &Completed{above: make(map[uint64]struct{})}
}

func (c *Completed) Mark(id uint64) {
	if c.Contains(id) {
		return
	}
	if !c.hasRun {
		c.hasRun = true
		c.low, c.watermark = id, id
	} else {
		c.above[id] = struct{}{}
	}
	c.compact()
}

func (c *Completed) compact() {
	for {
		next := c.watermark + 1
		if _, ok := c.above[next]; !ok {
			break
		}
		delete(c.above, next)
		c.watermark = next
	}
	for c.low > 0 {
		prev := c.low - 1
		if _, ok := c.above[prev]; !ok {
			break
		}
		delete(c.above, prev)
		c.low = prev
	}
}

func (c *Completed) Contains(id uint64) bool {
	if c.hasRun && id >= c.low && id <= c.watermark {
		return true
	}
	_, ok := c.above[id]
	return ok
}

// Watermark returns the highest id of the contiguous completed run.
func (c *Completed) Watermark() (uint64, bool) { return c.watermark, c.hasRun }

// Len counts ids held outside the contiguous run.
func (c *Completed) Len() int { return len(c.above) }
