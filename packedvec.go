package eliasfano

import "fmt"

// PackedLongVector stores fixed-width integers packed back to back in
// 64-bit words. A width of zero is legal and stores nothing; every Get
// returns zero.
type PackedLongVector struct {
	width int
	n     int
	mask  uint64
	words []uint64
}

// NewPackedLongVector returns an empty vector of width-bit fields.
// Width must be in [0, 63].
func NewPackedLongVector(width int) *PackedLongVector {
	if width < 0 || width > 63 {
		panic(fmt.Errorf("%w: packed field width %d", ErrIndexOutOfBounds, width))
	}
	var mask uint64
	if width > 0 {
		mask = 1<<uint(width) - 1
	}
	return &PackedLongVector{width: width, mask: mask}
}

// packedFromWords wraps pre-built words without copying.
func packedFromWords(width, n int, words []uint64) *PackedLongVector {
	p := NewPackedLongVector(width)
	p.n = n
	p.words = words
	return p
}

// SetSize resizes the vector to n fields, preserving existing contents up to
// the new size.
func (p *PackedLongVector) SetSize(n int) {
	wordsNeeded := (n*p.width + 63) >> 6
	if wordsNeeded > len(p.words) {
		words := make([]uint64, wordsNeeded)
		copy(words, p.words)
		p.words = words
	} else {
		p.words = p.words[:wordsNeeded]
	}
	p.n = n
}

// Len returns the number of fields.
func (p *PackedLongVector) Len() int { return p.n }

// Width returns the field width in bits.
func (p *PackedLongVector) Width() int { return p.width }

// Set stores the low width bits of v at position i.
func (p *PackedLongVector) Set(i int, v uint64) {
	if i < 0 || i >= p.n {
		panic(fmt.Errorf("%w: packed index %d of %d", ErrIndexOutOfBounds, i, p.n))
	}
	if p.width == 0 {
		return
	}
	bitPos := uint(i) * uint(p.width)
	w, off := bitPos>>6, bitPos&63
	p.words[w] = p.words[w]&^(p.mask<<off) | (v&p.mask)<<off
	if off+uint(p.width) > 64 {
		spill := 64 - off
		p.words[w+1] = p.words[w+1]&^(p.mask>>spill) | (v&p.mask)>>spill
	}
}

// Get returns the field at position i, combining across two words when the
// field straddles a word boundary.
func (p *PackedLongVector) Get(i int) uint64 {
	if i < 0 || i >= p.n {
		panic(fmt.Errorf("%w: packed index %d of %d", ErrIndexOutOfBounds, i, p.n))
	}
	if p.width == 0 {
		return 0
	}
	bitPos := uint(i) * uint(p.width)
	w, off := bitPos>>6, bitPos&63
	v := p.words[w] >> off
	if off+uint(p.width) > 64 {
		v |= p.words[w+1] << (64 - off)
	}
	return v & p.mask
}

// Words exposes the backing words.
func (p *PackedLongVector) Words() []uint64 { return p.words }

// AsBits views the packed payload as a bit vector of n*width bits.
func (p *PackedLongVector) AsBits() *BitVector {
	return bitVectorFromWords(p.words, p.n*p.width)
}

// Bits returns the number of storage bits used by the vector.
func (p *PackedLongVector) Bits() uint64 { return uint64(len(p.words)) * 64 }

// Clone returns an independent copy.
func (p *PackedLongVector) Clone() *PackedLongVector {
	words := make([]uint64, len(p.words))
	copy(words, p.words)
	return packedFromWords(p.width, p.n, words)
}
