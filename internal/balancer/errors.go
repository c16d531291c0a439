package balancer

import "errors"

// Conditions the control loop must branch on. Everything else travels as
// wrapped errors.
var (
	// ErrNotEnoughNodes means fewer than two nodes are included; balancing
	// is impossible and the process should stop.
	ErrNotEnoughNodes = errors.New("fewer than two nodes included, balancing not possible")

	// ErrBadClusterLoad means the included memory load is outside (0,1);
	// the inventory is not trustworthy enough to act on.
	ErrBadClusterLoad = errors.New("cluster memory load invalid")

	// ErrTooManyFailures means the executor hit more than the tolerated
	// number of migration failures and aborted the batch.
	ErrTooManyFailures = errors.New("too many migration errors")

	// ErrGuestBadState means a migrated guest appeared on the recipient in
	// a non-running state. Operator attention required.
	ErrGuestBadState = errors.New("guest not running after migration")
)
