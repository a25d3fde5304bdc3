package estuary

import "fmt"

// Sentinel errors returned by the public API. Callers should use
// errors.Is against these rather than matching strings.
var (
	ErrBadArgument   = fmt.Errorf("estuary: bad arguments")
	ErrTooBig        = fmt.Errorf("estuary: too big")
	ErrBrokenFile    = fmt.Errorf("estuary: broken file")
	ErrNotSaved      = fmt.Errorf("estuary: file not saved correctly")
	ErrTooManyRefs   = fmt.Errorf("estuary: too many references")
	ErrOutOfCapacity = fmt.Errorf("estuary: out of data capacity")
)

// CorruptError is raised by writer paths when strict mode (see
// (*Estuary).SetStrict) detects a violated invariant. It is distinct from
// the plain ErrBrokenFile sentinel, which is reserved for load-time header
// validation failures.
type CorruptError struct {
	Invariant string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("estuary: corrupt state: %s", e.Invariant)
}

// sweepRetries is how many additional lookup attempts a reader makes after
// an initial miss observed the sweeping flag set. It bounds, but does not
// eliminate, the probability of a false miss caused by concurrent sweep
// motion (spec: "very low failure rate").
const sweepRetries = 2
