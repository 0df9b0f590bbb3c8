package detect

import (
	"errors"
	"fmt"
)

// ErrIncompleteData marks a fetched event that lacks fields required to evaluate or render it.
var ErrIncompleteData = errors.New("incomplete upstream data")

// Incomplete builds an ErrIncompleteData error naming the missing fields.
func Incomplete(what string, missing ...string) error {
	return fmt.Errorf("%w: %s missing %v", ErrIncompleteData, what, missing)
}
