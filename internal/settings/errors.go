package settings

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrFileNotReadable is returned when a settings file cannot be opened or read.
	// Callers usually log it and continue with defaults.
	ErrFileNotReadable = errors.New("settings file not readable")
	// ErrFileParse is returned when a settings file was read but contains a malformed line.
	ErrFileParse = errors.New("malformed settings file")
	// ErrCoercion is returned when a raw value cannot be converted to the type of its setting.
	ErrCoercion = errors.New("invalid setting value")
	// ErrSerializationFormat is returned when a packed override blob is malformed.
	ErrSerializationFormat = errors.New("malformed packed settings")
	// ErrEnvironmentProcessed is returned when the environment is scanned a second time.
	ErrEnvironmentProcessed = errors.New("environment already processed")
	// ErrEmptyKey is returned when an override names no setting.
	ErrEmptyKey = errors.New("empty setting key")
)

// FileError reports a settings file that could not be read or parsed. Err is
// ErrFileNotReadable or ErrFileParse; Cause carries the underlying failure.
// Line is zero when the whole file is at fault.
type FileError struct {
	Path  string
	Line  int
	Text  string
	Err   error
	Cause error
}

func (e *FileError) Error() string {
	msg := e.Path
	if e.Line > 0 {
		msg += ":" + strconv.Itoa(e.Line)
	}
	msg += ": " + e.Err.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Text != "" {
		msg += fmt.Sprintf(" (%q)", e.Text)
	}
	return msg
}

func (e *FileError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// CoercionError reports a raw value that does not fit the kind of its setting.
type CoercionError struct {
	Key      string
	Raw      string
	Expected string
	Err      error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("setting %q: value %q is not a valid %s", e.Key, e.Raw, e.Expected)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Is(target error) bool { return target == ErrCoercion }

func (e *CoercionError) Unwrap() error { return e.Err }

// FormatError reports malformed input to Unpack. Offset is the byte index of
// the offending character in the blob.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", ErrSerializationFormat, e.Offset, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrSerializationFormat }
