package classfile

import (
	"errors"
	"fmt"
)

// Parse errors. Every parse failure matches ErrMalformedUnit; the more
// specific values let callers tell truncation from a version mismatch.
var (
	ErrMalformedUnit      = errors.New("malformed class file")
	ErrTruncated          = fmt.Errorf("%w: truncated", ErrMalformedUnit)
	ErrBadMagic           = fmt.Errorf("%w: bad magic", ErrMalformedUnit)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformedUnit)
)

// ErrUnrepresentableUnit is returned by Serialize when a modified method
// cannot be encoded as a valid class file.
var ErrUnrepresentableUnit = errors.New("unrepresentable class file")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedUnit, fmt.Sprintf(format, args...))
}

func unrepresentable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnrepresentableUnit, fmt.Sprintf(format, args...))
}
