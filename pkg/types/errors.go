package types

import "strconv"

// ValidationError reports a malformed or out-of-range field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func quote(s string) string {
	return strconv.Quote(s)
}
