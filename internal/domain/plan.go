// Package domain contains the core business entities for Meridian Upload.
package domain

// Part size constraints imposed by S3-compatible object stores. Every part
// except the last must be at least MinPartSize, and a multipart upload may
// not exceed MaxPartCount parts.
const (
	MiB = 1024 * 1024

	// DefaultPartSize is the part size used when the file fits within
	// MaxPartCount parts at this size.
	DefaultPartSize int64 = 10 * MiB

	// MinPartSize is the smallest part size the backend accepts for any
	// part other than the last.
	MinPartSize int64 = 5 * MiB

	// MaxPartSize is the largest part size the planner will produce.
	MaxPartSize int64 = 100 * MiB

	// MaxPartCount is the backend's maximum number of parts per upload.
	MaxPartCount = 10000
)

// PartPlan is the immutable slicing plan for one upload. The plan is computed
// once at session creation; the client computes the same plan independently
// when slicing the file, so Plan must be deterministic.
type PartPlan struct {
	PartSize   int64 `json:"part_size"`
	TotalParts int   `json:"total_parts"`
}

// Plan computes the part size and count for a file of the given size.
//
// The default part size is used unless it would exceed MaxPartCount parts, in
// which case the part size is recomputed as ceil(fileSize/MaxPartCount) and
// rounded up to the next MiB. The result is clamped to
// [MinPartSize, MaxPartSize]. Rounding up guarantees every part except the
// last meets the backend minimum.
func Plan(fileSize int64) (PartPlan, error) {
	if fileSize <= 0 {
		return PartPlan{}, ErrFileSizeInvalid
	}

	partSize := DefaultPartSize
	if ceilDiv(fileSize, partSize) > MaxPartCount {
		partSize = ceilDiv(fileSize, MaxPartCount)
		// Round up to the nearest MiB.
		partSize = ceilDiv(partSize, MiB) * MiB
	}

	if partSize < MinPartSize {
		partSize = MinPartSize
	}
	if partSize > MaxPartSize {
		partSize = MaxPartSize
	}

	return PartPlan{
		PartSize:   partSize,
		TotalParts: int(ceilDiv(fileSize, partSize)),
	}, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
