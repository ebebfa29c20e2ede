package volume

import "context"

// checkCancelled returns ctx.Err() if ctx has been cancelled, nil otherwise.
// Call sites sprinkle this between ICP iterations, BVH traversal chunks, and
// integration chunks so a cancelled context is observed within one chunk's
// worth of work instead of only after the whole stage returns.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
