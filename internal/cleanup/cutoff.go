package cleanup

import (
	"context"
	"time"
)

// SizeQuerier answers "sum of size where createTime <= t".
type SizeQuerier interface {
	QueryCumulativeSizeBefore(ctx context.Context, t time.Time) (int64, error)
}

// FindCutoff returns the earliest millisecond T in [oldest, now] whose
// cumulative size reaches cleanSize, together with the number of size
// queries it issued. total is the cumulative size at now and seeds a
// linear guess before the binary search narrows the window.
//
// If even now does not reach cleanSize the search settles on now.
func FindCutoff(ctx context.Context, q SizeQuerier, oldest, now time.Time, total, cleanSize int64) (time.Time, int, error) {
	lo, hi := oldest.UnixMilli(), now.UnixMilli()
	if hi < lo {
		hi = lo
	}
	queries := 0
	reaches := func(ms int64) (bool, error) {
		queries++
		size, err := q.QueryCumulativeSizeBefore(ctx, time.UnixMilli(ms))
		if err != nil {
			return false, err
		}
		return size >= cleanSize, nil
	}

	if total > 0 && lo < hi {
		ratio := float64(cleanSize) / float64(total)
		guess := lo + int64(float64(hi-lo)*ratio)
		guess = max(lo, min(guess, hi))
		ok, err := reaches(guess)
		if err != nil {
			return time.Time{}, queries, err
		}
		if ok {
			hi = guess
		} else {
			lo = guess + 1
		}
	}

	for lo < hi {
		if err := ctx.Err(); err != nil {
			return time.Time{}, queries, err
		}
		mid := lo + (hi-lo)/2
		ok, err := reaches(mid)
		if err != nil {
			return time.Time{}, queries, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return time.UnixMilli(hi).UTC(), queries, nil
}
