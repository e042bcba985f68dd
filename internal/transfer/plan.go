package transfer

import (
	"fmt"
)

const (
	DefaultChunkCount        = 10
	DefaultUnknownChunkBytes = 256 * 1024 * 1024
	maxChunkCount            = 100
)

// PlanOptions controls how a transfer is cut into reconnect segments. Either
// ChunkCount or WidthPercent is used; WidthPercent wins when both are set.
type PlanOptions struct {
	ChunkCount        int
	WidthPercent      int
	UnknownChunkBytes int64
}

func DefaultPlanOptions() PlanOptions {
	return PlanOptions{
		ChunkCount:        DefaultChunkCount,
		UnknownChunkBytes: DefaultUnknownChunkBytes,
	}
}

type boundary struct {
	percent uint8
	offset  int64
}

// Plan divides a transfer of sizeHint bytes (UnknownSize if not known) into
// chunks. Known sizes produce contiguous byte ranges whose lengths sum to
// sizeHint; unknown sizes produce capped segments followed by an open-ended
// final one.
func Plan(sizeHint int64, opts PlanOptions) (ChunkPlan, error) {
	percents, err := percentBoundaries(opts)
	if err != nil {
		return ChunkPlan{}, err
	}
	if sizeHint < 0 {
		return planUnknown(percents, opts), nil
	}
	count := int64(len(percents) - 1)
	if sizeHint < count {
		return ChunkPlan{
			Size: sizeHint,
			Chunks: []Chunk{{
				Index:        0,
				StartPercent: 0,
				EndPercent:   100,
				StartByte:    0,
				EndByte:      sizeHint,
				Last:         true,
			}},
		}, nil
	}

	bounds := make([]boundary, 0, len(percents))
	for i, p := range percents {
		var off int64
		if opts.WidthPercent > 0 {
			off = sizeHint * int64(p) / 100
		} else {
			off = sizeHint * int64(i) / count
		}
		b := boundary{percent: p, offset: off}
		if len(bounds) > 0 && bounds[len(bounds)-1].offset == off {
			// zero-length segment: fold it into its neighbour
			if len(bounds) > 1 {
				bounds[len(bounds)-1] = b
			}
			continue
		}
		bounds = append(bounds, b)
	}

	plan := ChunkPlan{Size: sizeHint, Chunks: make([]Chunk, 0, len(bounds)-1)}
	for i := 0; i < len(bounds)-1; i++ {
		plan.Chunks = append(plan.Chunks, Chunk{
			Index:        i,
			StartPercent: bounds[i].percent,
			EndPercent:   bounds[i+1].percent,
			StartByte:    bounds[i].offset,
			EndByte:      bounds[i+1].offset,
			Last:         i == len(bounds)-2,
		})
	}
	return plan, nil
}

func planUnknown(percents []uint8, opts PlanOptions) ChunkPlan {
	limit := opts.UnknownChunkBytes
	if limit <= 0 {
		limit = DefaultUnknownChunkBytes
	}
	n := len(percents) - 1
	plan := ChunkPlan{Size: UnknownSize, Chunks: make([]Chunk, 0, n)}
	for i := 0; i < n; i++ {
		c := Chunk{
			Index:        i,
			StartPercent: percents[i],
			EndPercent:   percents[i+1],
			Limit:        limit,
			Last:         i == n-1,
		}
		if c.Last {
			c.Limit = 0
		}
		plan.Chunks = append(plan.Chunks, c)
	}
	return plan
}

// percentBoundaries returns the ordered percent marks 0..100 for the
// configured policy. Count mode lets the last chunk absorb the integer
// remainder; width mode makes the last chunk the short one.
func percentBoundaries(opts PlanOptions) ([]uint8, error) {
	if opts.WidthPercent < 0 || opts.WidthPercent > 100 {
		return nil, fmt.Errorf("chunk width must be between 1 and 100 percent, got %d", opts.WidthPercent)
	}
	if opts.WidthPercent > 0 {
		var marks []uint8
		for p := 0; p < 100; p += opts.WidthPercent {
			marks = append(marks, uint8(p))
		}
		return append(marks, 100), nil
	}
	n := opts.ChunkCount
	if n == 0 {
		n = DefaultChunkCount
	}
	if n < 0 || n > maxChunkCount {
		return nil, fmt.Errorf("chunk count must be between 1 and %d, got %d", maxChunkCount, n)
	}
	marks := make([]uint8, n+1)
	for i := 0; i <= n; i++ {
		marks[i] = uint8(100 * i / n)
	}
	return marks, nil
}
