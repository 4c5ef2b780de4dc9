package eliasfano

import "math/bits"

// encodedBucket is the compressed form of one bucket: the packed low bits of
// each value, a select index over the unary upper-bits bitmap, and the
// lower-bit width.
type encodedBucket struct {
	low   *PackedLongVector
	sel   *SimpleSelect
	width int
}

// encodeBucket compresses values against prevUpper, the last value of the
// preceding bucket. Values must be non-decreasing and >= prevUpper.
//
// With u = values[len-1] - prevUpper and B = len(values), the lower-bit
// width is max(0, floor(log2(u/B))); the upper bitmap spans
// B + (u >> width) + 1 bits with a one at ((v-prevUpper) >> width) + i for
// the i-th value, so each bucket's bitmap carries exactly B ones.
func encodeBucket(values []uint64, prevUpper uint64) encodedBucket {
	b := len(values)
	u := values[b-1] - prevUpper
	width := 0
	if q := u / uint64(b); q > 0 {
		width = bits.Len64(q) - 1
	}
	var mask uint64
	if width > 0 {
		mask = 1<<uint(width) - 1
	}
	low := NewPackedLongVector(width)
	low.SetSize(b)
	high := NewBitVector(b + int(u>>uint(width)) + 1)
	for i, v := range values {
		d := v - prevUpper
		if width > 0 {
			low.Set(i, d&mask)
		}
		high.Set(int(d>>uint(width)) + i)
	}
	return encodedBucket{low: low, sel: NewSimpleSelect(high), width: width}
}

// bucketIter decodes a single bucket sequentially with a running next-one
// cursor over the upper bitmap, or serves the unencoded tail buffer.
type bucketIter struct {
	limit   int
	i       int
	ones    int
	nextOne int
	width   int
	base    uint64
	low     *PackedLongVector
	sel     *SimpleSelect
	buf     []uint64
}

// Next returns the next decoded value of the bucket.
func (it *bucketIter) Next() (uint64, bool) {
	if it.i >= it.limit {
		return 0, false
	}
	if it.buf != nil {
		v := it.buf[it.i]
		it.i++
		return v, true
	}
	it.nextOne = it.sel.bv.NextOne(it.nextOne + 1)
	upper := uint64(it.nextOne - it.ones)
	it.ones++
	var v uint64
	if it.width == 0 {
		v = upper + it.base
	} else {
		v = (upper<<uint(it.width) | it.low.Get(it.i)) + it.base
	}
	it.i++
	return v, true
}
