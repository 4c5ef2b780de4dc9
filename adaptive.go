package eliasfano

import (
	"fmt"
	"math"
	"math/bits"
)

// DefaultAdaptiveBucketSize is the initial bucket size used by NewAdaptive.
const DefaultAdaptiveBucketSize = 32

// Adaptive is the Elias-Fano sequence with a geometric bucket-size schedule,
// for callers that cannot predict the final length. Values live in an
// ordered list of chunks, each an AppendOnly sequence storing values
// relative to the chunk's base (the last value of the previous chunk).
//
// While the sequence is small the single chunk is rebuilt with a doubled
// bucket size each time the length crosses B*B/8; after seven doublings new
// growth spills into fresh chunks whose capacity doubles each time, so a
// chunk holding index i is located with constant-time bit arithmetic.
type Adaptive struct {
	b0     int
	b      int
	thresh int
	n0     int
	msbn0  int
	next   int
	n      int
	last   uint64
	chunks *Vec[*adaptiveChunk]
}

type adaptiveChunk struct {
	s         *AppendOnly
	prevUpper uint64
}

var _ Sequence = (*Adaptive)(nil)

// NewAdaptive returns an empty adaptive sequence with the default initial
// bucket size.
func NewAdaptive() *Adaptive {
	a, _ := NewAdaptiveWithBucketSize(DefaultAdaptiveBucketSize)
	return a
}

// NewAdaptiveWithBucketSize returns an empty adaptive sequence whose initial
// bucket size is b0. b0 must be at least 16.
func NewAdaptiveWithBucketSize(b0 int) (*Adaptive, error) {
	if b0 < 16 {
		return nil, fmt.Errorf("%w: adaptive bucket size %d (minimum 16)", ErrNonPositiveBucketSize, b0)
	}
	a := &Adaptive{b0: b0}
	a.reset()
	return a, nil
}

func (a *Adaptive) reset() {
	a.b = a.b0
	a.thresh = a.b0 * a.b0 >> 3
	b7 := a.b0 << 7
	a.n0 = b7 * b7 >> 3
	a.msbn0 = bits.Len(uint(a.n0)) - 1
	a.next = -1
	a.n = 0
	a.last = 0
	a.chunks = NewVec[*adaptiveChunk]()
	a.chunks.Push(&adaptiveChunk{s: newAppendOnly(a.b0, vecInitialCapacity)})
}

// Len returns the number of stored values.
func (a *Adaptive) Len() int { return a.n }

// Last returns the last value, or zero for an empty sequence.
func (a *Adaptive) Last() uint64 { return a.last }

// Append adds v at the end of the sequence.
func (a *Adaptive) Append(v uint64) error {
	if v < a.last {
		return fmt.Errorf("%w: %d after %d", ErrNotMonotone, v, a.last)
	}
	if a.n > a.thresh {
		a.advanceSchedule()
	}
	cur := a.chunks.Get(a.chunks.Len() - 1)
	if err := cur.s.Append(v - cur.prevUpper); err != nil {
		return err
	}
	a.n++
	a.last = v
	return nil
}

// advanceSchedule reacts to a threshold breach: the first seven breaches
// double the bucket size and rebuild the only chunk; afterwards a new chunk
// is opened with doubled capacity and bucket size sqrt(4*threshold).
func (a *Adaptive) advanceSchedule() {
	a.next++
	cur := a.chunks.Get(a.chunks.Len() - 1)
	if a.next < 7 {
		a.b <<= 1
		a.thresh = a.b * a.b >> 3
		tmp := newAppendOnly(a.b, cur.s.Len()*2/a.b)
		it := cur.s.Iter()
		for {
			v, ok := it.Next()
			if !ok {
				break
			}
			tmp.Append(v)
		}
		cur.s = tmp
		return
	}
	upper := cur.prevUpper + cur.s.Last()
	a.thresh <<= 1
	a.b = int(math.Sqrt(float64(a.thresh) * 4))
	a.chunks.Push(&adaptiveChunk{s: newAppendOnly(a.b, vecInitialCapacity), prevUpper: upper})
}

// chunkOf locates the chunk holding index i with branch-free bit
// arithmetic: with d = msb(i) - msb(n0), the chunk id is max(d, 0) plus one
// when i lies past that chunk's cumulative capacity.
func (a *Adaptive) chunkOf(i int) int {
	d := int64(bits.Len64(uint64(i)) - 1 - a.msbn0)
	mask := d >> 63
	abs := (d + mask) ^ mask
	x := int((d + abs) >> 1)
	diff := uint64(a.n0)<<uint(x) - uint64(i)
	return x + int(diff>>63)
}

// chunkOffset returns the index of the first element of chunk k.
func (a *Adaptive) chunkOffset(k int) int {
	if k == 0 {
		return 0
	}
	return a.n0<<uint(k-1) + 1
}

// Get returns the i-th value.
func (a *Adaptive) Get(i int) uint64 {
	if i < 0 || i >= a.n {
		panic(fmt.Errorf("%w: %d with length %d", ErrIndexOutOfBounds, i, a.n))
	}
	id := a.chunkOf(i)
	c := a.chunks.Get(id)
	return c.s.Get(i-a.chunkOffset(id)) + c.prevUpper
}

// NextGEQ returns the smallest stored value >= x, or -1 if none exists.
// The chunk search may land one chunk early when x sits exactly on a chunk
// boundary; scanning continues into later chunks until a hit.
func (a *Adaptive) NextGEQ(x uint64) int64 {
	if a.n == 0 || x > a.last {
		return -1
	}
	if x == 0 {
		return int64(a.Get(0))
	}
	for k := a.searchChunks(x); k < a.chunks.Len(); k++ {
		c := a.chunks.Get(k)
		var rel uint64
		if x > c.prevUpper {
			rel = x - c.prevUpper
		}
		if r := c.s.NextGEQ(rel); r != -1 {
			return r + int64(c.prevUpper)
		}
	}
	return -1
}

// searchChunks returns the last chunk whose base is strictly below x, so
// that a boundary value equal to a chunk base is found in the earlier chunk.
func (a *Adaptive) searchChunks(x uint64) int {
	lo, hi := 0, a.chunks.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if a.chunks.Get(mid).prevUpper >= x {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// adaptiveIter chains chunk iterators, rebasing each chunk's relative
// values on its base.
type adaptiveIter struct {
	a     *Adaptive
	chunk int
	inner *appendOnlyIter
	base  uint64
	next  int
	limit int
}

// Iter iterates the whole sequence.
func (a *Adaptive) Iter() Iter { return a.iterFrom(0, a.n-1) }

// Range iterates positions from..to inclusive.
func (a *Adaptive) Range(from, to int) (Iter, error) {
	if err := checkRange(from, to, a.n); err != nil {
		return nil, err
	}
	return a.iterFrom(from, to), nil
}

func (a *Adaptive) iterFrom(from, to int) *adaptiveIter {
	it := &adaptiveIter{a: a, next: from, limit: to + 1}
	if from <= to {
		it.chunk = a.chunkOf(from)
		c := a.chunks.Get(it.chunk)
		localFrom := from - a.chunkOffset(it.chunk)
		it.inner = c.s.iterFrom(localFrom, c.s.Len()-1)
		it.base = c.prevUpper
	}
	return it
}

func (it *adaptiveIter) Next() (uint64, bool) {
	if it.next >= it.limit {
		return 0, false
	}
	v, ok := it.inner.Next()
	for !ok {
		it.chunk++
		c := it.a.chunks.Get(it.chunk)
		it.inner = c.s.iterFrom(0, c.s.Len()-1)
		it.base = c.prevUpper
		v, ok = it.inner.Next()
	}
	it.next++
	return v + it.base, true
}

// SubList returns a new adaptive sequence holding positions from..to
// inclusive, copied through an iterator.
func (a *Adaptive) SubList(from, to int) (*Adaptive, error) {
	if err := checkRange(from, to, a.n); err != nil {
		return nil, err
	}
	sub := NewAdaptive()
	it := a.iterFrom(from, to)
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

// Bits returns the total number of bits across all chunks.
func (a *Adaptive) Bits() uint64 {
	var total uint64
	for _, c := range a.chunks.Values() {
		total += c.s.Bits()
	}
	return total
}

// TrimToSize reduces backing capacity across all chunks.
func (a *Adaptive) TrimToSize() {
	for _, c := range a.chunks.Values() {
		c.s.TrimToSize()
	}
	a.chunks.TrimToSize()
}

// Clear resets the sequence to its initial empty state.
func (a *Adaptive) Clear() { a.reset() }

// Clone returns an independent deep copy.
func (a *Adaptive) Clone() *Adaptive {
	c := &Adaptive{
		b0:     a.b0,
		b:      a.b,
		thresh: a.thresh,
		n0:     a.n0,
		msbn0:  a.msbn0,
		next:   a.next,
		n:      a.n,
		last:   a.last,
		chunks: NewVecCap[*adaptiveChunk](a.chunks.Len(), math.MaxInt),
	}
	for _, ch := range a.chunks.Values() {
		c.chunks.Push(&adaptiveChunk{s: ch.s.Clone(), prevUpper: ch.prevUpper})
	}
	return c
}
