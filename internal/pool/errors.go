package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPoolDestroyed is returned for operations on a destroyed pool.
	ErrPoolDestroyed = errors.New("pool is destroyed")

	// ErrNotPooled is returned when releasing a terminal the pool does not
	// have checked out.
	ErrNotPooled = errors.New("terminal is not checked out from this pool")
)

// AcquireTimeoutError reports that no terminal became available within the
// configured acquisition timeout.
type AcquireTimeoutError struct {
	Timeout time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("terminal acquisition timed out after %s", e.Timeout)
}
