package buffer

// CircularFloat64 is a circular buffer of float64s with the ability to iterate
// over the first and second halves of the values collected in the order that
// they were appended. The sampler uses one as a sliding window over per-step
// acceptance fractions.
type CircularFloat64 struct {
	buffer    []float64 // actual storage
	pos       int       // Current position in buffer
	BufSize   int       // BufSize is the fixed number of values maintained in memory
	Count     int       // Count is the number of values in memory. Will always be <= BufSize
	TotalSeen int64     // TotalSeen is the total number of times Add has been called
}

// NewCircularFloat64 creates a new circular buffer of totalSize. If totalSize
// is not a multiple of 2, it will be adjusted.
func NewCircularFloat64(totalSize int) *CircularFloat64 {
	// Fix odd number situations
	half := totalSize / 2
	total := half + half

	return &CircularFloat64{
		buffer:  make([]float64, total),
		pos:     0,
		BufSize: total,
		Count:   0,
	}
}

// Internal: return the next array position
func (c *CircularFloat64) nextPos() int {
	return (c.pos + 1) % c.BufSize
}

// Add appends the given value to the buffer, overwriting the oldest entry
func (c *CircularFloat64) Add(f float64) error {
	c.TotalSeen++

	c.buffer[c.pos] = f

	c.pos = c.nextPos()

	c.Count++
	if c.Count > c.BufSize {
		c.Count = c.BufSize // max out
	}

	return nil
}

// FirstHalf returns an iterator over the first (oldest) half of the stored
// values. Will not return a valid iterator until Add has been called at least
// BufSize times
func (c *CircularFloat64) FirstHalf() *CircularFloat64Iterator {
	if c.Count < c.BufSize {
		return nil
	}

	return &CircularFloat64Iterator{
		buf:    c,
		curr:   c.pos, // Oldest is the one we're about to write
		remain: c.BufSize / 2,
	}
}

// SecondHalf returns an iterator over the second (most recent) half of the
// stored values. Will not return a valid iterator until Add has been called at
// least BufSize times
func (c *CircularFloat64) SecondHalf() *CircularFloat64Iterator {
	if c.Count < c.BufSize {
		return nil
	}

	half := c.BufSize / 2
	pos := (c.pos + half) % c.BufSize

	return &CircularFloat64Iterator{
		buf:    c,
		curr:   pos,
		remain: half,
	}
}

// HalfMeans returns the mean of the oldest half and the mean of the most
// recent half. ok is false until the buffer has filled at least once.
func (c *CircularFloat64) HalfMeans() (first float64, second float64, ok bool) {
	fi := c.FirstHalf()
	si := c.SecondHalf()
	if fi == nil || si == nil {
		return 0.0, 0.0, false
	}

	n := 0
	for fi.Next() {
		first += fi.Value()
		n++
	}
	first /= float64(n)

	n = 0
	for si.Next() {
		second += si.Value()
		n++
	}
	second /= float64(n)

	return first, second, true
}

// CircularFloat64Iterator provides an iterator over a CircularFloat64 buffer
type CircularFloat64Iterator struct {
	buf    *CircularFloat64
	curr   int
	remain int
}

// Next returns True when there are more values to read via Value
func (i *CircularFloat64Iterator) Next() bool {
	return i.remain > 0
}

// Value return the next value to be read. Should only be called if Next() is
// True
func (i *CircularFloat64Iterator) Value() float64 {
	v := i.buf.buffer[i.curr]
	i.curr = (i.curr + 1) % i.buf.BufSize
	i.remain--
	return v
}
