package eliasfano

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDynamic(t *testing.T, b int, values []uint64) *Dynamic {
	t.Helper()
	d, err := NewDynamic(b)
	require.NoError(t, err)
	require.NoError(t, AppendAll(d, values))
	return d
}

func TestDynamicScenarioSmall(t *testing.T) {
	assert := assert.New(t)
	d := buildDynamic(t, 4, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, d.Dynamize())
	require.True(t, d.IsDynamic())

	require.NoError(t, d.Add(3))
	assert.Equal([]uint64{0, 1, 2, 3, 3, 4, 5, 6, 7, 8, 9}, ToSlice(d))
	assert.Equal(uint64(3), d.Get(4))
	assert.Equal(uint64(9), d.Get(10))

	require.NoError(t, d.Remove(3))
	assert.Equal([]uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ToSlice(d))

	require.NoError(t, d.Remove(0))
	assert.Equal([]uint64{1, 2, 3, 4, 5, 6, 7, 8, 9}, ToSlice(d))
	assert.Equal(9, d.Len())
	assert.Equal(uint64(1), d.Get(0))
	assert.Equal(int64(1), d.NextGEQ(0))
	assert.Equal(int64(1), d.NextGEQ(1))
}

func TestDynamicRemoveBeforeDynamize(t *testing.T) {
	d := buildDynamic(t, 4, []uint64{1, 2, 3})
	assert.ErrorIs(t, d.Remove(2), ErrUnsupported)
}

func TestDynamizeRejectsTinyBuckets(t *testing.T) {
	d := buildDynamic(t, 2, []uint64{1, 2, 3, 4})
	assert.ErrorIs(t, d.Dynamize(), ErrBucketTooSmall)
	assert.False(t, d.IsDynamic())
}

func TestDynamicStaticEquivalenceAfterDynamize(t *testing.T) {
	values := genGapped(20_000, 800, 61)
	b := int(math.Sqrt(float64(len(values)) * 8))
	d := buildDynamic(t, b, values)

	wantBits := d.Bits()
	require.NoError(t, d.Dynamize())
	assert.GreaterOrEqual(t, d.Bits(), wantBits, "edit logs add storage")

	for i, want := range values {
		require.Equal(t, want, d.Get(i), "index %d", i)
	}
	rng := rand.New(rand.NewSource(67))
	last := values[len(values)-1]
	for i := 0; i < 5_000; i++ {
		x := uint64(rng.Int63n(int64(last) + 1))
		require.Equal(t, refNextGEQ(values, x), d.NextGEQ(x), "x %d", x)
	}
}

// TestDynamicAddRemoveRoundTrip follows the large randomized scenario:
// build, dynamize, apply n/10 random additions, verify the merged view,
// remove those same values again, and verify the sequence is back to its
// original contents.
func TestDynamicAddRemoveRoundTrip(t *testing.T) {
	const n = 200_000
	values := genGapped(n, 1500, 71)
	b := int(math.Sqrt(float64(n) * 8))
	d := buildDynamic(t, b, values)
	require.NoError(t, d.Dynamize())

	rng := rand.New(rand.NewSource(73))
	extraCount := n / 10
	extras := make([]uint64, extraCount)
	bound := int64(values[n-1]) + int64(extraCount)
	for i := range extras {
		extras[i] = uint64(rng.Int63n(bound))
		require.NoError(t, d.Add(extras[i]))
	}
	require.Equal(t, n+extraCount, d.Len())

	merged := make([]uint64, 0, n+extraCount)
	merged = append(merged, values...)
	merged = append(merged, extras...)
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	assert.Equal(t, merged, ToSlice(d), "merged view after additions")

	for i := 0; i < 3_000; i++ {
		idx := rng.Intn(len(merged))
		require.Equal(t, merged[idx], d.Get(idx), "index %d after additions", idx)
	}

	for _, v := range extras {
		require.NoError(t, d.Remove(v))
	}
	require.Equal(t, n, d.Len())
	assert.Equal(t, values, ToSlice(d), "contents after removing the additions")

	for i := 0; i < 3_000; i++ {
		idx := rng.Intn(n)
		require.Equal(t, values[idx], d.Get(idx), "index %d after removals", idx)
	}
	last := values[n-1]
	for i := 0; i < 2_000; i++ {
		x := uint64(rng.Int63n(int64(last) + 1))
		require.Equal(t, refNextGEQ(values, x), d.NextGEQ(x), "x %d", x)
	}
}

func TestDynamicDuplicateAdditions(t *testing.T) {
	assert := assert.New(t)
	d := buildDynamic(t, 8, []uint64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100})
	require.NoError(t, d.Dynamize())
	require.NoError(t, d.Add(30))
	require.NoError(t, d.Add(30))
	assert.Equal([]uint64{10, 20, 30, 30, 30, 40, 50, 60, 70, 80, 90, 100}, ToSlice(d))
	require.NoError(t, d.Remove(30))
	assert.Equal([]uint64{10, 20, 30, 30, 40, 50, 60, 70, 80, 90, 100}, ToSlice(d), "a deletion cancels exactly one occurrence")
	require.NoError(t, d.Remove(30))
	require.NoError(t, d.Remove(30))
	assert.Equal([]uint64{10, 20, 40, 50, 60, 70, 80, 90, 100}, ToSlice(d))
}

func TestDynamicRemoveLastPopsBuffer(t *testing.T) {
	assert := assert.New(t)
	d := buildDynamic(t, 4, []uint64{1, 2, 3, 4, 5, 6})
	require.NoError(t, d.Dynamize())
	require.NoError(t, d.Remove(6))
	assert.Equal([]uint64{1, 2, 3, 4, 5}, ToSlice(d))
	require.NoError(t, d.Remove(5))
	assert.Equal([]uint64{1, 2, 3, 4}, ToSlice(d))
	// Tail is empty now; removing the last compressed value goes through
	// the deletions log.
	require.NoError(t, d.Remove(4))
	assert.Equal([]uint64{1, 2, 3}, ToSlice(d))
	require.NoError(t, d.Add(7))
	assert.Equal([]uint64{1, 2, 3, 7}, ToSlice(d))
}

// TestDynamicChurnSmallBuckets forces many flushes, splits, and merges by
// hammering a small-bucket sequence with interleaved edits.
func TestDynamicChurnSmallBuckets(t *testing.T) {
	values := genGapped(2_000, 50, 79)
	d := buildDynamic(t, 16, values)
	require.NoError(t, d.Dynamize())

	ref := append([]uint64(nil), values...)
	rng := rand.New(rand.NewSource(83))
	for step := 0; step < 4_000; step++ {
		if rng.Intn(2) == 0 || len(ref) == 0 {
			v := uint64(rng.Int63n(int64(values[len(values)-1]) + 100))
			require.NoError(t, d.Add(v))
			i := sort.Search(len(ref), func(i int) bool { return ref[i] > v })
			ref = append(ref, 0)
			copy(ref[i+1:], ref[i:])
			ref[i] = v
		} else {
			i := rng.Intn(len(ref))
			v := ref[i]
			require.NoError(t, d.Remove(v))
			ref = append(ref[:i], ref[i+1:]...)
		}
		if step%500 == 0 {
			require.Equal(t, ref, ToSlice(d), "step %d", step)
		}
	}
	require.Equal(t, len(ref), d.Len())
	require.Equal(t, ref, ToSlice(d))
	for i := 0; i < 2_000; i++ {
		idx := rng.Intn(len(ref))
		require.Equal(t, ref[idx], d.Get(idx), "index %d", idx)
	}
	rngLast := ref[len(ref)-1]
	for i := 0; i < 2_000; i++ {
		x := uint64(rng.Int63n(int64(rngLast) + 10))
		require.Equal(t, refNextGEQ(ref, x), d.NextGEQ(x), "x %d", x)
	}
}

func TestDynamicCloneIndependence(t *testing.T) {
	values := genGapped(5_000, 200, 89)
	b := int(math.Sqrt(float64(len(values)) * 8))
	d := buildDynamic(t, b, values)
	require.NoError(t, d.Dynamize())
	require.NoError(t, d.Add(values[100]))

	clone := d.Clone()
	require.NoError(t, d.Add(12345))
	require.NoError(t, d.Remove(values[0]))

	assert.Equal(t, len(values)+1, clone.Len())
	assert.Equal(t, uint64(values[0]), clone.Get(0))
	assert.True(t, clone.IsDynamic())
}

func TestDynamicRangeIterator(t *testing.T) {
	values := genGapped(3_000, 100, 97)
	d := buildDynamic(t, 32, values)
	require.NoError(t, d.Dynamize())
	require.NoError(t, d.Add(values[500]))

	it, err := d.Range(499, 503)
	require.NoError(t, err)
	got := make([]uint64, 0, 5)
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []uint64{values[499], values[500], values[500], values[501], values[502]}
	assert.Equal(t, want, got)

	_, err = d.Range(5, 2)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestDynamicSubList(t *testing.T) {
	values := genGapped(1_000, 40, 101)
	d := buildDynamic(t, 16, values)
	require.NoError(t, d.Dynamize())
	sub, err := d.SubList(10, 20)
	require.NoError(t, err)
	assert.Equal(t, values[10:21], ToSlice(sub))
}

func TestDynamicClearResets(t *testing.T) {
	d := buildDynamic(t, 16, genGapped(500, 20, 103))
	require.NoError(t, d.Dynamize())
	d.Clear()
	assert.False(t, d.IsDynamic())
	assert.Equal(t, 0, d.Len())
	require.NoError(t, d.Append(5))
	assert.Equal(t, uint64(5), d.Get(0))
}

func TestDynamicTrimToSize(t *testing.T) {
	d := buildDynamic(t, 64, genGapped(10_000, 300, 107))
	require.NoError(t, d.Dynamize())
	require.NoError(t, d.Add(17))
	before := d.Bits()
	d.TrimToSize()
	assert.LessOrEqual(t, d.Bits(), before)
	assert.Equal(t, 10_001, d.Len())
}

func BenchmarkDynamicAdd(b *testing.B) {
	const n = 1 << 17
	values := genGapped(n, 1000, 1)
	d, _ := NewDynamic(1024)
	AppendAll(d, values)
	d.Dynamize()
	rng := rand.New(rand.NewSource(2))
	queries := make([]uint64, 1024)
	for i := range queries {
		queries[i] = uint64(rng.Int63n(int64(values[n-1])))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Add(queries[i&1023])
	}
}

func BenchmarkDynamicGet(b *testing.B) {
	const n = 1 << 17
	d, _ := NewDynamic(1024)
	AppendAll(d, genGapped(n, 1000, 1))
	d.Dynamize()
	d.Add(500)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sinkU64 = d.Get(i & (n - 1))
	}
}
