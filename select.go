package eliasfano

import (
	"fmt"
	"math/bits"

	"golang.org/x/sys/cpu"
)

// selectSampleRate is the sampling stride of SimpleSelect: the position of
// every 64th one is recorded, and queries scan at most one stride of words.
const selectSampleRate = 64

// SimpleSelect answers select1(k) queries over a BitVector: the position of
// the k-th (0-based) set bit. It stores sampled positions of every 64th one
// and scans forward word by word from the nearest sample, which is constant
// amortized time for the dense unary bitmaps produced by the bucket encoder.
type SimpleSelect struct {
	bv      *BitVector
	ones    int
	samples []int32
}

// NewSimpleSelect builds a select index over bv. The bit vector is retained,
// not copied.
func NewSimpleSelect(bv *BitVector) *SimpleSelect {
	s := &SimpleSelect{bv: bv}
	count := 0
	for wi, word := range bv.words {
		for word != 0 {
			if count&(selectSampleRate-1) == 0 {
				s.samples = append(s.samples, int32(wi<<6+bits.TrailingZeros64(word)))
			}
			word &= word - 1
			count++
		}
	}
	s.ones = count
	return s
}

// Select1 returns the position of the k-th (0-based) set bit.
// It panics with ErrIndexOutOfBounds if k >= OnesCount.
func (s *SimpleSelect) Select1(k int) int {
	if k < 0 || k >= s.ones {
		panic(fmt.Errorf("%w: select1(%d) with %d ones", ErrIndexOutOfBounds, k, s.ones))
	}
	pos := int(s.samples[k>>6])
	rem := k & (selectSampleRate - 1)
	if rem == 0 {
		return pos
	}
	w := pos >> 6
	word := s.bv.words[w] & (^uint64(0) << (uint(pos) & 63))
	word &= word - 1 // drop the sampled one itself
	target := rem - 1
	for {
		c := bits.OnesCount64(word)
		if target < c {
			return w<<6 + selectInWord(word, target)
		}
		target -= c
		w++
		word = s.bv.words[w]
	}
}

// OnesCount returns the number of ones in the indexed bit vector.
func (s *SimpleSelect) OnesCount() int { return s.ones }

// BitVec returns the indexed bit vector.
func (s *SimpleSelect) BitVec() *BitVector { return s.bv }

// Bits returns the storage bits of the index itself, excluding the bit
// vector it indexes.
func (s *SimpleSelect) Bits() uint64 { return uint64(len(s.samples)) * 32 }

// Clone returns an independent copy, including a copy of the bit vector.
func (s *SimpleSelect) Clone() *SimpleSelect {
	return NewSimpleSelect(s.bv.Clone())
}

// selectInWord returns the position of the k-th (0-based) set bit of w.
// Callers guarantee k < OnesCount64(w).
var selectInWord func(w uint64, k int) int = selectInWordBytes

func init() {
	// The clear-lowest loop compiles to a BLSR per dropped bit, which beats
	// the byte-table walk when the instruction is available.
	if cpu.X86.HasBMI1 {
		selectInWord = selectInWordSparse
	}
}

// selectInWordSparse drops the k lowest ones and reads the next position.
func selectInWordSparse(w uint64, k int) int {
	for ; k > 0; k-- {
		w &= w - 1
	}
	return bits.TrailingZeros64(w)
}

// selectByteTab[b][k] is the position of the k-th set bit within byte b.
var selectByteTab [256][8]uint8

func init() {
	for b := 0; b < 256; b++ {
		n := 0
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				selectByteTab[b][n] = uint8(bit)
				n++
			}
		}
	}
}

// selectInWordBytes walks the word a byte at a time, skipping whole bytes by
// popcount and finishing with a table lookup.
func selectInWordBytes(w uint64, k int) int {
	offset := 0
	for {
		b := uint8(w)
		c := bits.OnesCount8(b)
		if k < c {
			return offset + int(selectByteTab[b][k])
		}
		k -= c
		w >>= 8
		offset += 8
	}
}
