package relay

import (
	"context"

	"github.com/go-faster/errors"
)

// withCancellation runs a blocking operation that has no native cancellation
// and races it against ctx.
//
// If ctx is done before op returns, release is invoked (typically closing the
// socket op is blocked on) so op unblocks, and ErrCanceled is returned once op
// has returned. op's own result is discarded in that case, even when it
// completed successfully in the window between cancellation and release.
func withCancellation[T any](ctx context.Context, release func(), op func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		release()
		return zero, errors.Wrap(ErrCanceled, err.Error())
	}

	stop := context.AfterFunc(ctx, release)
	v, err := op()
	if !stop() {
		// release already ran (or is running): cancellation won the race.
		return zero, errors.Wrap(ErrCanceled, context.Cause(ctx).Error())
	}
	return v, err
}
