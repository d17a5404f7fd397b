//go:build !profile

package prof

import "io"

// Profiling errors (never returned when built without the "profile" tag).
var (
	ErrSessionActive   error
	ErrSessionInactive error
	ErrInvalidProfile  error
)

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = false

// Session is empty when built without the "profile" tag.
type Session struct{}

// Begin is a no-op when built without the "profile" tag.
func Begin(_ string, _ ...Profile) (*Session, error) {
	return &Session{}, nil
}

// End is a no-op when built without the "profile" tag.
func (*Session) End() error {
	return nil
}

// Dir returns an empty string when built without the "profile" tag.
func (*Session) Dir() string {
	return ""
}

// Snapshot is a no-op when built without the "profile" tag.
func Snapshot(_ Profile, _ io.Writer) error {
	return nil
}
