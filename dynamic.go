package eliasfano

import (
	"fmt"
	"math"
	"math/bits"
)

// initialIndexCapacity is the starting capacity of each per-bucket edit log.
const initialIndexCapacity = 2

// Dynamic wraps an AppendOnly sequence with per-bucket edit logs so that
// arbitrary values can be inserted and removed while the bulk of the
// sequence stays compressed. Until Dynamize is called it behaves exactly
// like the underlying append-only sequence.
//
// In dynamic mode each bucket carries two bounded sorted logs of pending
// additions and deletions. Reads reconcile a bucket with its logs through a
// three-way merge; when a log fills (or the tail buffer does) the bucket is
// flushed: its logs are folded into a freshly compressed bucket, which may
// split in two, merge with its neighbor, or be rebuilt in place.
type Dynamic struct {
	s       *AppendOnly
	di      *dynamicIndex
	dynamic bool
	n       int
}

var _ Sequence = (*Dynamic)(nil)

// NewDynamic returns an empty sequence with bucket size b, in append-only
// mode.
func NewDynamic(b int) (*Dynamic, error) {
	s, err := NewAppendOnly(b)
	if err != nil {
		return nil, err
	}
	return &Dynamic{s: s}, nil
}

// NewDynamicWithCapacity returns an empty sequence with bucket size b,
// pre-sized for capacity elements.
func NewDynamicWithCapacity(b, capacity int) (*Dynamic, error) {
	s, err := NewAppendOnlyWithCapacity(b, capacity)
	if err != nil {
		return nil, err
	}
	return &Dynamic{s: s}, nil
}

// Dynamize switches the sequence from append-only to edit-capable mode by
// attaching per-bucket edit logs. The log capacity is derived from the
// bucket size and the current length so the total log footprint stays
// O(B / log n) per bucket.
func (d *Dynamic) Dynamize() error {
	if d.dynamic {
		return nil
	}
	if d.s.b < 4 {
		return fmt.Errorf("%w: %d", ErrBucketTooSmall, d.s.b)
	}
	d.di = newDynamicIndex(d.s, d.n)
	d.dynamic = true
	return nil
}

// IsDynamic reports whether edits are enabled.
func (d *Dynamic) IsDynamic() bool { return d.dynamic }

// Len returns the number of stored values.
func (d *Dynamic) Len() int { return d.n }

// BucketSize returns the configured bucket size.
func (d *Dynamic) BucketSize() int { return d.s.b }

// Append adds v at the end of the sequence. In dynamic mode any value is
// accepted and routed to its bucket; in append-only mode v must not be
// smaller than the current last value.
func (d *Dynamic) Append(v uint64) error {
	if d.dynamic {
		return d.Add(v)
	}
	if err := d.s.Append(v); err != nil {
		return err
	}
	d.n++
	return nil
}

// Add inserts v at its sorted position. Before Dynamize it is equivalent to
// Append.
func (d *Dynamic) Add(v uint64) error {
	if !d.dynamic {
		if err := d.s.Append(v); err != nil {
			return err
		}
		d.n++
		return nil
	}
	d.di.add(v)
	d.n++
	return nil
}

// Remove deletes one occurrence of v. It fails with ErrUnsupported before
// Dynamize. The value must be present in the sequence.
func (d *Dynamic) Remove(v uint64) error {
	if !d.dynamic {
		return fmt.Errorf("%w: remove before dynamize", ErrUnsupported)
	}
	d.di.remove(v)
	d.n--
	return nil
}

// Get returns the i-th value. In dynamic mode the bucket holding i is found
// through the logical-size prefix sums; a direct compressed read is used
// when the bucket has no pending edits, otherwise the bucket is replayed
// through the three-way merge iterator.
func (d *Dynamic) Get(i int) uint64 {
	if i < 0 || i >= d.n {
		panic(fmt.Errorf("%w: %d with length %d", ErrIndexOutOfBounds, i, d.n))
	}
	if !d.dynamic {
		return d.s.Get(i)
	}
	bucket, offset := d.di.locate(i)
	log := d.di.logs.Get(bucket)
	if log.additions.Len() == 0 && log.deletions.Len() == 0 {
		if bucket == d.s.buckets {
			return d.s.buffer[offset]
		}
		return d.s.getInBucket(bucket, offset)
	}
	it := d.di.bucketMergeIter(bucket)
	for j := 0; j < offset; j++ {
		it.Next()
	}
	v, _ := it.Next()
	return v
}

// NextGEQ returns the smallest stored value >= x, or -1 if none exists.
func (d *Dynamic) NextGEQ(x uint64) int64 {
	if !d.dynamic {
		return d.s.NextGEQ(x)
	}
	if d.n == 0 {
		return -1
	}
	bucket := 0
	if x > 0 {
		bucket = d.s.searchInfo(x)
	}
	it := d.iterFromBucket(bucket, d.n)
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

// Iter iterates the whole sequence.
func (d *Dynamic) Iter() Iter {
	if !d.dynamic {
		return d.s.Iter()
	}
	return d.iterFromBucket(0, d.n)
}

// Range iterates positions from..to inclusive.
func (d *Dynamic) Range(from, to int) (Iter, error) {
	if !d.dynamic {
		return d.s.Range(from, to)
	}
	if err := checkRange(from, to, d.n); err != nil {
		return nil, err
	}
	bucket, offset := d.di.locate(from)
	it := d.iterFromBucket(bucket, to-from+1)
	for j := 0; j < offset; j++ {
		it.skip()
	}
	return it, nil
}

func (d *Dynamic) iterFromBucket(bucket, remaining int) *dynamicIter {
	return &dynamicIter{
		di:        d.di,
		bucket:    bucket,
		cur:       d.di.bucketMergeIter(bucket),
		remaining: remaining,
	}
}

// SubList returns a new dynamic sequence holding positions from..to
// inclusive.
func (d *Dynamic) SubList(from, to int) (*Dynamic, error) {
	if err := checkRange(from, to, d.n); err != nil {
		return nil, err
	}
	b := int(math.Sqrt(float64(to-from+1) * 8))
	if b < 1 {
		b = 1
	}
	sub, err := NewDynamic(b)
	if err != nil {
		return nil, err
	}
	it, err := d.Range(from, to)
	if err != nil {
		return nil, err
	}
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
func (d *Dynamic) Bits() uint64 {
	total := d.s.Bits()
	if d.dynamic {
		total += d.di.bits()
	}
	return total
}

// TrimToSize reduces backing capacity to the current length.
func (d *Dynamic) TrimToSize() {
	d.s.TrimToSize()
	if d.dynamic {
		d.di.trimToSize()
	}
}

// Clear resets the sequence to append-only mode with no values.
func (d *Dynamic) Clear() {
	d.s.Clear()
	d.di = nil
	d.dynamic = false
	d.n = 0
}

// Clone returns an independent deep copy.
func (d *Dynamic) Clone() *Dynamic {
	c := &Dynamic{s: d.s.Clone(), dynamic: d.dynamic, n: d.n}
	if d.dynamic {
		c.di = d.di.clone(c.s)
	}
	return c
}

// editLog holds a bucket's pending sorted additions and deletions.
type editLog struct {
	additions *Vec[uint64]
	deletions *Vec[uint64]
}

// dynamicIndex routes edits to per-bucket logs and folds them back into the
// compressed sequence when they fill.
type dynamicIndex struct {
	s       *AppendOnly
	maxCap  int
	halfB   int
	doubleB int
	logs    *Vec[*editLog]
	sizes   *PrefixSumVec
}

func newDynamicIndex(s *AppendOnly, n int) *dynamicIndex {
	msb := bits.Len(uint(n)) - 1
	if msb < 1 {
		msb = 1
	}
	c := s.b / (msb << 1)
	if c%2 != 0 {
		c++
	}
	maxCap := c >> 1
	if maxCap < initialIndexCapacity {
		maxCap = initialIndexCapacity
	}
	di := &dynamicIndex{
		s:       s,
		maxCap:  maxCap,
		halfB:   s.b >> 1,
		doubleB: s.b << 1,
		logs:    NewVecCap[*editLog](s.buckets+1, math.MaxInt),
		sizes:   NewPrefixSumVec(s.b, s.buckets),
	}
	for i := 0; i <= s.buckets; i++ {
		di.logs.Push(di.newLog())
	}
	return di
}

func (di *dynamicIndex) newLog() *editLog {
	return &editLog{
		additions: NewVecCap[uint64](initialIndexCapacity, di.maxCap),
		deletions: NewVecCap[uint64](initialIndexCapacity, di.maxCap),
	}
}

func resetLog(log *editLog) {
	log.additions.ClearCap(initialIndexCapacity)
	log.deletions.ClearCap(initialIndexCapacity)
}

// logSize is the net length contribution of a log's pending edits.
func logSize(log *editLog) int {
	return log.additions.Len() - log.deletions.Len()
}

// insertSorted places v at its sorted position, after any equal values.
func insertSorted(vec *Vec[uint64], v uint64) {
	items := vec.Values()
	for i, x := range items {
		if v < x {
			vec.Insert(i, v)
			return
		}
	}
	vec.Push(v)
}

// tailLen is the logical length of the tail: buffered values plus the
// tail log's pending edits.
func (di *dynamicIndex) tailLen() int {
	return di.s.bn + logSize(di.logs.Get(di.s.buckets))
}

// bufferFull reports whether the tail has reached a full bucket.
func (di *dynamicIndex) bufferFull() bool {
	return di.tailLen() >= di.s.b
}

// add routes v either to the tail buffer (values at or beyond the current
// last) or to the sorted additions log of its bucket, flushing whichever
// side fills.
func (di *dynamicIndex) add(v uint64) {
	s := di.s
	if v >= s.last {
		if s.bn == len(s.buffer) && s.bn < s.b {
			buffer := make([]uint64, s.b)
			copy(buffer, s.buffer)
			s.buffer = buffer
		}
		if s.bn == s.b {
			di.flushTail()
		}
		s.buffer[s.bn] = v
		s.bn++
		s.last = v
		if di.bufferFull() {
			di.flushTail()
		}
		return
	}
	bucket := s.searchInfo(v)
	log := di.logs.Get(bucket)
	insertSorted(log.additions, v)
	if bucket == s.buckets {
		if log.additions.Len() >= di.maxCap || di.bufferFull() {
			di.flushTail()
		}
		return
	}
	di.sizes.Incr(bucket)
	if log.additions.Len() >= di.maxCap {
		di.flushBucket(bucket)
	}
}

// remove deletes one occurrence of v: the tail's last value is popped
// directly, anything else is recorded in its bucket's deletions log.
func (di *dynamicIndex) remove(v uint64) {
	s := di.s
	if v == s.last && s.bn > 0 {
		s.bn--
		if s.bn > 0 {
			s.last = s.buffer[s.bn-1]
		} else {
			s.last = s.info.Get(s.buckets) >> infoWidthBits
		}
		return
	}
	bucket := s.searchInfo(v)
	log := di.logs.Get(bucket)
	insertSorted(log.deletions, v)
	if bucket == s.buckets {
		if log.deletions.Len() >= di.maxCap {
			di.flushTail()
		}
		return
	}
	di.sizes.Decr(bucket)
	if log.deletions.Len() >= di.maxCap {
		di.flushBucket(bucket)
	}
}

// compressedLen is the number of values in bucket b's compressed form, net
// of pending edits.
func (di *dynamicIndex) compressedLen(b int) int {
	if b >= di.s.buckets {
		return di.s.bn
	}
	log := di.logs.Get(b)
	return di.sizes.GetInt(b) - logSize(log)
}

// locate maps a logical index to its bucket and offset within the bucket.
func (di *dynamicIndex) locate(i int) (bucket, offset int) {
	compressed := di.sizes.Total()
	if i >= compressed {
		return di.s.buckets, i - compressed
	}
	bucket = di.sizes.Search(i)
	if bucket > 0 {
		offset = i - di.sizes.Get(bucket-1)
	} else {
		offset = i
	}
	return bucket, offset
}

// fuse materializes the logical contents of bucket b, already sorted, by
// replaying the three-way merge.
func (di *dynamicIndex) fuse(b, length int) []uint64 {
	out := make([]uint64, 0, length)
	it := di.bucketMergeIter(b)
	for len(out) < length {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// flushTail folds the tail log into the buffer. A full result becomes a new
// compressed bucket; a short one is written back as the new buffer.
func (di *dynamicIndex) flushTail() {
	s := di.s
	log := di.logs.Get(s.buckets)
	newB := s.bn + logSize(log)
	if newB == 0 {
		s.bn = 0
		resetLog(log)
		return
	}
	fused := di.fuse(s.buckets, newB)
	resetLog(log)
	if newB >= s.b {
		s.compress(fused)
		di.sizes.AddInt(di.sizes.Len(), newB)
		di.logs.Push(di.newLog())
		s.bn = 0
		return
	}
	if len(s.buffer) < s.b {
		s.buffer = make([]uint64, s.b)
	}
	copy(s.buffer, fused)
	s.bn = newB
}

// flushBucket folds bucket b's logs into its compressed form and then
// splits, merges, or reconstructs depending on the resulting size.
func (di *dynamicIndex) flushBucket(b int) {
	s := di.s
	newB := di.sizes.GetInt(b)
	log := di.logs.Get(b)
	if newB == 0 {
		// Every value was deleted; drop the bucket slot.
		s.lowerBits.Remove(b)
		s.selectors.Remove(b)
		s.info.Remove(b)
		di.sizes.RemoveInt(b)
		di.logs.Remove(b)
		s.buckets--
		return
	}
	fused := di.fuse(b, newB)
	resetLog(log)
	switch {
	case newB >= di.doubleB:
		di.split(fused, b)
	case newB <= di.halfB:
		if !di.mergeWithNext(fused, b) {
			di.reconstruct(fused, b)
		}
	default:
		di.reconstruct(fused, b)
	}
}

// split divides an oversized bucket into one of exactly B values and one
// holding the remainder, inserting a new bucket slot after b.
func (di *dynamicIndex) split(fused []uint64, b int) {
	s := di.s
	first, second := fused[:s.b], fused[s.b:]
	boundary := first[len(first)-1]
	s.info.Insert(b+1, boundary<<infoWidthBits)
	di.reconstruct(first, b)
	eb := encodeBucket(second, boundary)
	s.info.Set(b+1, boundary<<infoWidthBits|uint64(eb.width))
	s.lowerBits.Insert(b+1, eb.low)
	s.selectors.Insert(b+1, eb.sel)
	di.sizes.AddInt(b+1, len(second))
	di.logs.Insert(b+1, di.newLog())
	s.buckets++
}

// mergeWithNext concatenates an undersized bucket with its successor (or
// the tail) when the combined size stays below the split threshold. It
// reports whether a merge happened.
func (di *dynamicIndex) mergeWithNext(fused []uint64, b int) bool {
	s := di.s
	if b+1 < s.buckets {
		nextDim := di.sizes.GetInt(b + 1)
		if nextDim == 0 || len(fused)+nextDim >= di.doubleB {
			return false
		}
		ff := di.fuse(b+1, nextDim)
		resetLog(di.logs.Get(b + 1))
		fused = append(fused, ff...)
		di.reconstruct(fused, b)
		s.lowerBits.Remove(b + 1)
		s.selectors.Remove(b + 1)
		s.info.Remove(b + 1)
		di.sizes.RemoveInt(b + 1)
		di.logs.Remove(b + 1)
		s.buckets--
		return true
	}
	// The successor is the tail.
	nextDim := di.tailLen()
	if nextDim == 0 || len(fused)+nextDim >= di.doubleB {
		return false
	}
	ff := di.fuse(s.buckets, nextDim)
	resetLog(di.logs.Get(s.buckets))
	fused = append(fused, ff...)
	di.reconstruct(fused, b)
	last := fused[len(fused)-1]
	s.info.Set(b+1, last<<infoWidthBits)
	s.bn = 0
	s.last = last
	return true
}

// reconstruct recompresses bucket b in place with the given values.
func (di *dynamicIndex) reconstruct(values []uint64, b int) {
	s := di.s
	base := s.info.Get(b) >> infoWidthBits
	eb := encodeBucket(values, base)
	s.info.Set(b, base<<infoWidthBits|uint64(eb.width))
	s.lowerBits.Set(b, eb.low)
	s.selectors.Set(b, eb.sel)
	di.sizes.SetInt(b, len(values))
}

func (di *dynamicIndex) bits() uint64 {
	var total uint64
	for _, log := range di.logs.Values() {
		total += uint64(log.additions.Cap()+log.deletions.Cap()) * 64
	}
	return total + di.sizes.Bits()
}

func (di *dynamicIndex) trimToSize() {
	for _, log := range di.logs.Values() {
		log.additions.TrimToSize()
		log.deletions.TrimToSize()
	}
	di.logs.TrimToSize()
	di.sizes.TrimToSize()
}

func (di *dynamicIndex) clone(s *AppendOnly) *dynamicIndex {
	c := &dynamicIndex{
		s:       s,
		maxCap:  di.maxCap,
		halfB:   di.halfB,
		doubleB: di.doubleB,
		logs:    NewVecCap[*editLog](di.logs.Len(), math.MaxInt),
		sizes:   di.sizes.Clone(),
	}
	for _, log := range di.logs.Values() {
		cl := c.newLog()
		for _, v := range log.additions.Values() {
			cl.additions.Push(v)
		}
		for _, v := range log.deletions.Values() {
			cl.deletions.Push(v)
		}
		c.logs.Push(cl)
	}
	return c
}

// exhaustedCursor marks a drained merge cursor; stored values never reach
// it because the universe is capped at 2^63-1.
const exhaustedCursor = ^uint64(0)

// bucketMergeIter fuses one bucket's compressed values with its pending
// additions and deletions into a single sorted stream.
type bucketMergeIter struct {
	inner *bucketIter
	adds  []uint64
	dels  []uint64
	ai    int
	dei   int
	a     uint64 // next compressed value
	al    uint64 // next pending addition
	de    uint64 // next pending deletion
}

func (di *dynamicIndex) bucketMergeIter(b int) *bucketMergeIter {
	log := di.logs.Get(b)
	it := &bucketMergeIter{
		inner: di.s.bucketIterAt(b, 0),
		adds:  log.additions.Values(),
		dels:  log.deletions.Values(),
	}
	it.inner.limit = di.compressedLen(b)
	it.a = it.nextCompressed()
	it.al = it.nextAddition()
	it.de = it.nextDeletion()
	return it
}

func (it *bucketMergeIter) nextCompressed() uint64 {
	if v, ok := it.inner.Next(); ok {
		return v
	}
	return exhaustedCursor
}

func (it *bucketMergeIter) nextAddition() uint64 {
	if it.ai < len(it.adds) {
		v := it.adds[it.ai]
		it.ai++
		return v
	}
	return exhaustedCursor
}

func (it *bucketMergeIter) nextDeletion() uint64 {
	if it.dei < len(it.dels) {
		v := it.dels[it.dei]
		it.dei++
		return v
	}
	return exhaustedCursor
}

// Next emits the bucket's logical values in order. Additions win ties with
// compressed values (a value may be added more than once); a deletion
// cancels exactly one matching compressed value or pending addition.
func (it *bucketMergeIter) Next() (uint64, bool) {
	for {
		if it.a == exhaustedCursor && it.al == exhaustedCursor && it.de == exhaustedCursor {
			return 0, false
		}
		switch {
		case it.a < it.al && it.a < it.de:
			v := it.a
			it.a = it.nextCompressed()
			return v, true
		case it.al <= it.a && it.al < it.de:
			v := it.al
			it.al = it.nextAddition()
			return v, true
		case it.al == it.de:
			it.al = it.nextAddition()
			it.de = it.nextDeletion()
		case it.de == it.a:
			it.a = it.nextCompressed()
			it.de = it.nextDeletion()
		default:
			it.de = it.nextDeletion()
		}
	}
}

// dynamicIter chains bucket merge iterators across the whole sequence.
type dynamicIter struct {
	di        *dynamicIndex
	bucket    int
	cur       *bucketMergeIter
	remaining int
}

func (it *dynamicIter) Next() (uint64, bool) {
	if it.remaining <= 0 {
		return 0, false
	}
	for {
		v, ok := it.cur.Next()
		if ok {
			it.remaining--
			return v, true
		}
		if it.bucket >= it.di.s.buckets {
			return 0, false
		}
		it.bucket++
		it.cur = it.di.bucketMergeIter(it.bucket)
	}
}

// skip discards the next value without decrementing remaining.
func (it *dynamicIter) skip() {
	for {
		if _, ok := it.cur.Next(); ok {
			return
		}
		if it.bucket >= it.di.s.buckets {
			return
		}
		it.bucket++
		it.cur = it.di.bucketMergeIter(it.bucket)
	}
}
