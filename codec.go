package eliasfano

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/mhr3/streamvbyte"
)

// Snapshot layout (little-endian):
//
//	Bytes  0-3:  magic "EFSQ"
//	Byte   4:    format version
//	Bytes  5-7:  reserved, zero
//	Bytes  8-47: bucket size, length, buffered count, bucket count, last
//	             value (five uint64 fields)
//	Then:        buffered tail values (raw uint64)
//	             info words, bucket count + 1 of them (raw uint64)
//	             StreamVByte block of 3 uint32 per bucket: value count,
//	             lower-bits word count, upper bitmap bit length
//	             (uint32 byte length prefix)
//	             per bucket: lower-bits words, upper bitmap words (raw)
//	Trailer:     xxhash64 of everything above
//
// The format is self-describing per bucket, so sequences whose buckets were
// reshaped by the dynamic engine marshal the same way as append-only ones.
const (
	snapshotVersion    = 1
	snapshotHeaderSize = 48
)

var snapshotMagic = [4]byte{'E', 'F', 'S', 'Q'}

var bo = binary.LittleEndian

// MarshalBinary encodes the sequence as a self-contained snapshot with an
// integrity checksum. It implements encoding.BinaryMarshaler.
func (s *AppendOnly) MarshalBinary() ([]byte, error) {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf[0:4], snapshotMagic[:])
	buf[4] = snapshotVersion
	bo.PutUint64(buf[8:], uint64(s.b))
	bo.PutUint64(buf[16:], uint64(s.n))
	bo.PutUint64(buf[24:], uint64(s.bn))
	bo.PutUint64(buf[32:], uint64(s.buckets))
	bo.PutUint64(buf[40:], s.last)

	for i := 0; i < s.bn; i++ {
		buf = bo.AppendUint64(buf, s.buffer[i])
	}
	for i := 0; i <= s.buckets; i++ {
		buf = bo.AppendUint64(buf, s.info.Get(i))
	}

	var svb []byte
	if s.buckets > 0 {
		meta := make([]uint32, 0, 3*s.buckets)
		for i := 0; i < s.buckets; i++ {
			sel := s.selectors.Get(i)
			meta = append(meta,
				uint32(sel.OnesCount()),
				uint32(len(s.lowerBits.Get(i).Words())),
				uint32(sel.BitVec().Len()))
		}
		svb = streamvbyte.EncodeUint32(meta, &streamvbyte.EncodeOptions[uint32]{
			Buffer: make([]byte, streamvbyte.MaxEncodedLen(len(meta))),
		})
	}
	buf = bo.AppendUint32(buf, uint32(len(svb)))
	buf = append(buf, svb...)

	for i := 0; i < s.buckets; i++ {
		for _, w := range s.lowerBits.Get(i).Words() {
			buf = bo.AppendUint64(buf, w)
		}
		for _, w := range s.selectors.Get(i).BitVec().Words() {
			buf = bo.AppendUint64(buf, w)
		}
	}

	return appendChecksum(buf), nil
}

// appendChecksum seals a snapshot with the xxhash64 of its contents.
func appendChecksum(buf []byte) []byte {
	return bo.AppendUint64(buf, xxhash.Sum64(buf))
}

// UnmarshalBinary replaces the sequence with the snapshot's contents,
// rebuilding the select indexes from the stored bitmaps. It implements
// encoding.BinaryUnmarshaler.
func (s *AppendOnly) UnmarshalBinary(data []byte) error {
	if len(data) < snapshotHeaderSize+8 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSnapshot, len(data))
	}
	payload, sum := data[:len(data)-8], bo.Uint64(data[len(data)-8:])
	if xxhash.Sum64(payload) != sum {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}
	if [4]byte(payload[0:4]) != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}
	if payload[4] != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, payload[4])
	}
	b := int(bo.Uint64(payload[8:]))
	n := int(bo.Uint64(payload[16:]))
	bn := int(bo.Uint64(payload[24:]))
	buckets := int(bo.Uint64(payload[32:]))
	last := bo.Uint64(payload[40:])
	if b <= 0 || bn < 0 || bn > b || buckets < 0 || n < 0 {
		return fmt.Errorf("%w: inconsistent header", ErrInvalidSnapshot)
	}

	r := payload[snapshotHeaderSize:]
	readU64 := func() (uint64, bool) {
		if len(r) < 8 {
			return 0, false
		}
		v := bo.Uint64(r)
		r = r[8:]
		return v, true
	}

	buffer := make([]uint64, b)
	for i := 0; i < bn; i++ {
		v, ok := readU64()
		if !ok {
			return fmt.Errorf("%w: truncated tail", ErrInvalidSnapshot)
		}
		buffer[i] = v
	}
	info := NewVecCap[uint64](buckets+1, math.MaxInt)
	for i := 0; i <= buckets; i++ {
		v, ok := readU64()
		if !ok {
			return fmt.Errorf("%w: truncated info", ErrInvalidSnapshot)
		}
		info.Push(v)
	}

	if len(r) < 4 {
		return fmt.Errorf("%w: missing metadata length", ErrInvalidSnapshot)
	}
	svbLen := int(bo.Uint32(r))
	r = r[4:]
	if len(r) < svbLen {
		return fmt.Errorf("%w: truncated metadata", ErrInvalidSnapshot)
	}
	var meta []uint32
	if buckets > 0 {
		metaCount := 3 * buckets
		meta = streamvbyte.DecodeUint32(r[:svbLen], metaCount, &streamvbyte.DecodeOptions[uint32]{
			Buffer: make([]uint32, metaCount),
		})
		if len(meta) != metaCount {
			return fmt.Errorf("%w: metadata decodes to %d entries, want %d", ErrInvalidSnapshot, len(meta), metaCount)
		}
	}
	r = r[svbLen:]

	lowerBits := NewVecCap[*PackedLongVector](buckets+1, math.MaxInt)
	selectors := NewVecCap[*SimpleSelect](buckets+1, math.MaxInt)
	for i := 0; i < buckets; i++ {
		count := int(meta[3*i])
		lowWords := int(meta[3*i+1])
		highLen := int(meta[3*i+2])
		width := int(info.Get(i) & infoWidthMask)
		highWords := (highLen + 63) >> 6
		if count < 0 || lowWords < 0 || highLen < count || len(r) < 8*(lowWords+highWords) {
			return fmt.Errorf("%w: truncated bucket %d", ErrInvalidSnapshot, i)
		}
		low := make([]uint64, lowWords)
		for j := range low {
			low[j], _ = readU64()
		}
		high := make([]uint64, highWords)
		for j := range high {
			high[j], _ = readU64()
		}
		lowerBits.Push(packedFromWords(width, count, low))
		sel := NewSimpleSelect(bitVectorFromWords(high, highLen))
		if sel.OnesCount() != count {
			return fmt.Errorf("%w: bucket %d has %d ones, want %d", ErrInvalidSnapshot, i, sel.OnesCount(), count)
		}
		selectors.Push(sel)
	}
	if len(r) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidSnapshot, len(r))
	}

	s.b = b
	s.n = n
	s.bn = bn
	s.buckets = buckets
	s.last = last
	s.buffer = buffer
	s.info = info
	s.lowerBits = lowerBits
	s.selectors = selectors
	return nil
}
