package eliasfano

import "errors"

// ErrIndexOutOfBounds is carried by the panic raised for reads outside [0, n)
// and returned for iterator bounds outside the sequence.
var ErrIndexOutOfBounds = errors.New("eliasfano: index out of bounds")

// ErrInvalidRange is returned when a range's lower bound exceeds its upper bound.
var ErrInvalidRange = errors.New("eliasfano: invalid range")

// ErrNotMonotone is returned when an appended value is smaller than the
// current last value of the sequence.
var ErrNotMonotone = errors.New("eliasfano: sequence not monotone")

// ErrNonPositiveBucketSize is returned when a sequence is constructed with a
// bucket size that is not positive (or below 16 for the adaptive variant).
var ErrNonPositiveBucketSize = errors.New("eliasfano: invalid bucket size")

// ErrCapacityTooSmall is returned when a requested initial capacity is
// smaller than the bucket size.
var ErrCapacityTooSmall = errors.New("eliasfano: initial capacity smaller than bucket size")

// ErrBucketTooSmall is returned by Dynamize when the bucket size cannot hold
// the per-bucket edit logs.
var ErrBucketTooSmall = errors.New("eliasfano: bucket size too small to dynamize")

// ErrUnsupported is returned for operations the monotone contract forbids.
var ErrUnsupported = errors.New("eliasfano: unsupported operation")

// ErrInvalidSnapshot is returned when a marshaled snapshot is truncated,
// malformed, or fails its checksum.
var ErrInvalidSnapshot = errors.New("eliasfano: invalid snapshot")
