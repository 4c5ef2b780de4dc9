package eliasfano

import (
	"fmt"
	"math"
)

// AppendOnly is the fixed-bucket Elias-Fano sequence. Values are collected
// in a tail buffer of B entries; each time the buffer fills it is compressed
// into a new bucket encoded against the previous bucket's last value.
//
// Per bucket the sequence keeps a packed lower-bits vector, a select index
// over the unary upper-bits bitmap, and one info word interleaving the
// lower-bit width with the previous bucket's last value. A trailing info
// slot records the last value of the newest compressed bucket (the base of
// the next bucket to be compressed); values still in the tail buffer are
// not reflected in it, and searches beyond it fall through to the tail.
type AppendOnly struct {
	b       int
	buffer  []uint64
	bn      int
	buckets int
	n       int
	last    uint64

	lowerBits *Vec[*PackedLongVector]
	selectors *Vec[*SimpleSelect]
	info      *Vec[uint64]
}

var _ Sequence = (*AppendOnly)(nil)

// NewAppendOnly returns an empty sequence with bucket size b.
func NewAppendOnly(b int) (*AppendOnly, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrNonPositiveBucketSize, b)
	}
	return newAppendOnly(b, vecInitialCapacity), nil
}

// NewAppendOnlyWithCapacity returns an empty sequence with bucket size b,
// pre-sizing internal vectors for capacity elements.
func NewAppendOnlyWithCapacity(b, capacity int) (*AppendOnly, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrNonPositiveBucketSize, b)
	}
	if capacity < b {
		return nil, fmt.Errorf("%w: capacity %d with bucket size %d", ErrCapacityTooSmall, capacity, b)
	}
	return newAppendOnly(b, capacity/b), nil
}

func newAppendOnly(b, bucketHint int) *AppendOnly {
	if bucketHint < vecInitialCapacity {
		bucketHint = vecInitialCapacity
	}
	s := &AppendOnly{
		b:         b,
		buffer:    make([]uint64, b),
		lowerBits: NewVecCap[*PackedLongVector](bucketHint, math.MaxInt),
		selectors: NewVecCap[*SimpleSelect](bucketHint, math.MaxInt),
		info:      NewVecCap[uint64](bucketHint, math.MaxInt),
	}
	s.info.Push(0)
	return s
}

// BucketSize returns the configured bucket size.
func (s *AppendOnly) BucketSize() int { return s.b }

// Len returns the number of stored values.
func (s *AppendOnly) Len() int { return s.n }

// Last returns the last value, or zero for an empty sequence.
func (s *AppendOnly) Last() uint64 { return s.last }

// Append adds v at the end of the sequence.
func (s *AppendOnly) Append(v uint64) error {
	if v < s.last {
		return fmt.Errorf("%w: %d after %d", ErrNotMonotone, v, s.last)
	}
	if s.bn == s.b {
		s.compress(s.buffer)
		s.bn = 0
	} else if s.bn == len(s.buffer) {
		// The buffer was trimmed; restore full bucket capacity.
		buffer := make([]uint64, s.b)
		copy(buffer, s.buffer)
		s.buffer = buffer
	}
	s.buffer[s.bn] = v
	s.bn++
	s.last = v
	s.n++
	return nil
}

// compress encodes values as a new bucket appended after the existing ones.
func (s *AppendOnly) compress(values []uint64) {
	prevUpper := s.info.Get(s.buckets) >> infoWidthBits
	eb := encodeBucket(values, prevUpper)
	s.lowerBits.Push(eb.low)
	s.selectors.Push(eb.sel)
	s.info.Set(s.buckets, prevUpper<<infoWidthBits|uint64(eb.width))
	s.info.Push(values[len(values)-1] << infoWidthBits)
	s.buckets++
}

// Get returns the i-th value.
func (s *AppendOnly) Get(i int) uint64 {
	if i < 0 || i >= s.n {
		panic(fmt.Errorf("%w: %d with length %d", ErrIndexOutOfBounds, i, s.n))
	}
	bucket, offset := i/s.b, i%s.b
	if bucket == s.buckets {
		return s.buffer[offset]
	}
	return s.getInBucket(bucket, offset)
}

// getInBucket decodes the offset-th value of a compressed bucket: the upper
// part comes from select1 over the unary bitmap, the lower part from the
// packed vector, and both are rebased on the previous bucket's last value.
func (s *AppendOnly) getInBucket(bucket, offset int) uint64 {
	lu := s.info.Get(bucket)
	width := int(lu & infoWidthMask)
	base := lu >> infoWidthBits
	upper := uint64(s.selectors.Get(bucket).Select1(offset) - offset)
	if width == 0 {
		return upper + base
	}
	return (upper<<uint(width) | s.lowerBits.Get(bucket).Get(offset)) + base
}

// NextGEQ returns the smallest stored value >= x, or -1 if none exists.
func (s *AppendOnly) NextGEQ(x uint64) int64 {
	if s.n == 0 || x > s.last {
		return -1
	}
	if x == 0 {
		return int64(s.Get(0))
	}
	bucket := s.searchInfo(x)
	it := s.bucketIterAt(bucket, 0)
	for {
		v, ok := it.Next()
		if !ok {
			return -1
		}
		if v >= x {
			return int64(v)
		}
	}
}

// searchInfo locates the bucket whose value range contains x: the smallest b
// with x <= upper(info[b+1]), or the tail bucket when x lies beyond every
// compressed bucket. When x equals a bucket boundary this lands on the
// earlier bucket, so a scan sees the boundary value itself.
func (s *AppendOnly) searchInfo(x uint64) int {
	lo, hi := 0, s.buckets
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if s.info.Get(mid+1)>>infoWidthBits >= x {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// bucketLen returns the number of values held by bucket b, including the
// tail buffer pseudo-bucket.
func (s *AppendOnly) bucketLen(b int) int {
	if b >= s.buckets {
		return s.bn
	}
	return s.b
}

// bucketIterAt returns an iterator over bucket b starting at offset within
// the bucket.
func (s *AppendOnly) bucketIterAt(b, offset int) *bucketIter {
	limit := s.bucketLen(b)
	if b >= s.buckets {
		return &bucketIter{limit: limit, i: offset, buf: s.buffer}
	}
	lu := s.info.Get(b)
	it := &bucketIter{
		limit:   limit,
		i:       offset,
		width:   int(lu & infoWidthMask),
		base:    lu >> infoWidthBits,
		low:     s.lowerBits.Get(b),
		sel:     s.selectors.Get(b),
		ones:    offset,
		nextOne: -1,
	}
	if offset > 0 {
		it.nextOne = it.sel.Select1(offset - 1)
	}
	return it
}

// appendOnlyIter chains bucket iterators across the whole sequence.
type appendOnlyIter struct {
	s      *AppendOnly
	bucket int
	cur    *bucketIter
	next   int
	limit  int
}

// Iter iterates the whole sequence.
func (s *AppendOnly) Iter() Iter { return s.iterFrom(0, s.n-1) }

// Range iterates positions from..to inclusive.
func (s *AppendOnly) Range(from, to int) (Iter, error) {
	if err := checkRange(from, to, s.n); err != nil {
		return nil, err
	}
	return s.iterFrom(from, to), nil
}

func (s *AppendOnly) iterFrom(from, to int) *appendOnlyIter {
	it := &appendOnlyIter{s: s, next: from, limit: to + 1}
	if from <= to {
		it.bucket = from / s.b
		it.cur = s.bucketIterAt(it.bucket, from%s.b)
	}
	return it
}

func (it *appendOnlyIter) Next() (uint64, bool) {
	if it.next >= it.limit {
		return 0, false
	}
	v, ok := it.cur.Next()
	for !ok {
		it.bucket++
		it.cur = it.s.bucketIterAt(it.bucket, 0)
		v, ok = it.cur.Next()
	}
	it.next++
	return v, true
}

// SubList returns a new sequence holding positions from..to inclusive,
// bucketed at roughly sqrt(8n) for the source length.
func (s *AppendOnly) SubList(from, to int) (*AppendOnly, error) {
	if err := checkRange(from, to, s.n); err != nil {
		return nil, err
	}
	b := int(math.Ceil(math.Sqrt(float64(s.n) * 8)))
	capacity := to - from
	if capacity < b {
		capacity = b
	}
	sub, err := NewAppendOnlyWithCapacity(b, capacity)
	if err != nil {
		return nil, err
	}
	it := s.iterFrom(from, to)
	for {
		v, ok := it.Next()
		if !ok {
			return sub, nil
		}
		if err := sub.Append(v); err != nil {
			return nil, err
		}
	}
}

// Bits returns the total number of bits across all internal storage.
func (s *AppendOnly) Bits() uint64 {
	var total uint64
	for i := 0; i < s.buckets; i++ {
		sel := s.selectors.Get(i)
		total += s.lowerBits.Get(i).Bits() + sel.Bits() + sel.BitVec().Bits()
	}
	total += uint64(s.info.Cap()) * 64
	total += uint64(len(s.buffer)) * 64
	total += uint64(s.lowerBits.Cap()+s.selectors.Cap()) * 64
	return total
}

// TrimToSize reduces backing capacity to the current length across the tail
// buffer and all bucket vectors.
func (s *AppendOnly) TrimToSize() {
	if s.bn < len(s.buffer) {
		buffer := make([]uint64, s.bn)
		copy(buffer, s.buffer[:s.bn])
		s.buffer = buffer
	}
	s.lowerBits.TrimToSize()
	s.selectors.TrimToSize()
	s.info.TrimToSize()
}

// Clear resets the sequence to its initial empty state.
func (s *AppendOnly) Clear() {
	s.n = 0
	s.bn = 0
	s.last = 0
	s.buckets = 0
	s.buffer = make([]uint64, s.b)
	s.lowerBits.Clear()
	s.selectors.Clear()
	s.info.Clear()
	s.info.Push(0)
}

// Clone returns an independent deep copy.
func (s *AppendOnly) Clone() *AppendOnly {
	c := newAppendOnly(s.b, s.buckets)
	c.n = s.n
	c.bn = s.bn
	c.last = s.last
	c.buckets = s.buckets
	c.buffer = make([]uint64, len(s.buffer))
	copy(c.buffer, s.buffer)
	c.info.Clear()
	for i := 0; i <= s.buckets; i++ {
		c.info.Push(s.info.Get(i))
	}
	for i := 0; i < s.buckets; i++ {
		c.lowerBits.Push(s.lowerBits.Get(i).Clone())
		c.selectors.Push(s.selectors.Get(i).Clone())
	}
	return c
}
