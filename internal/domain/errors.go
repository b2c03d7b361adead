package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports mandatory input fields that are missing. It is
// never retried: the record is classified immediately without any network
// attempt.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing mandatory fields: %s", strings.Join(e.Missing, ", "))
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
