package coach

import "errors"

// ErrInvalidArgument marks caller mistakes (bad shapes, unknown types,
// empty names) so transport layers can distinguish them from internal
// failures.
var ErrInvalidArgument = errors.New("invalid argument")

// IsInvalidArgument reports whether err stems from a caller mistake.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
