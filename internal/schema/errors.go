package schema

import (
	"errors"
	"fmt"
)

// ErrUnsupportedRelationship is the sentinel for relationships the loader cannot
// drive: composite keys, unmapped navigations, implicit many-to-many.
var ErrUnsupportedRelationship = errors.New("unsupported relationship")

// UnsupportedRelationshipError carries the owner and navigation that failed
// classification.
type UnsupportedRelationshipError struct {
	Owner      string
	Navigation string
	Reason     string
}

func (e *UnsupportedRelationshipError) Error() string {
	return fmt.Sprintf("unsupported relationship %s.%s: %s", e.Owner, e.Navigation, e.Reason)
}

// Is makes errors.Is(err, ErrUnsupportedRelationship) match.
func (e *UnsupportedRelationshipError) Is(target error) bool {
	return target == ErrUnsupportedRelationship
}

func unsupported(owner, navigation, format string, args ...any) error {
	return &UnsupportedRelationshipError{
		Owner:      owner,
		Navigation: navigation,
		Reason:     fmt.Sprintf(format, args...),
	}
}
