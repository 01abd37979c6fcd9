package upload

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrFragmentTransmissionFailed means one fragment attempt did not get
	// a 202, 200, or 201. The engine retries these on its own.
	ErrFragmentTransmissionFailed = errors.New("upload: fragment transmission failed")

	// ErrUploadAborted means a fragment exhausted its attempt budget. No
	// partial result exists; the whole upload has to start over.
	ErrUploadAborted = errors.New("upload: upload aborted")

	// ErrSourceNotSeekable means the whole-transfer retry policy was chosen
	// for a source that cannot be rewound.
	ErrSourceNotSeekable = errors.New("upload: source is not seekable")

	// ErrInvalidName means the target file name cannot be stored on the
	// account's drives.
	ErrInvalidName = errors.New("upload: invalid file name")

	// ErrCompletionUnreadable means the service accepted the last fragment
	// and committed the file, but its reply describing the item could not
	// be read. The upload is not retried.
	ErrCompletionUnreadable = errors.New("upload: file committed but completion reply unreadable")

	// ErrIncomplete means every byte was sent but the service never
	// reported the file as complete.
	ErrIncomplete = errors.New("upload: service did not confirm completion")
)

// FragmentError is one failed fragment attempt.
type FragmentError struct {
	Fragment   FragmentTransmission
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FragmentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload: fragment %s attempt %d: HTTP %d: %v",
			e.Fragment.ContentRange(), e.Fragment.Attempt, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("upload: fragment %s attempt %d: %v",
		e.Fragment.ContentRange(), e.Fragment.Attempt, e.Err)
}

// Unwrap exposes ErrFragmentTransmissionFailed and the cause.
func (e *FragmentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFragmentTransmissionFailed}
	}

	return []error{ErrFragmentTransmissionFailed, e.Err}
}

// AbortError ends an upload once a fragment, or with the whole-transfer
// policy the transfer itself, ran out of attempts.
type AbortError struct {
	Attempts int
	Last     *FragmentError
}

func (e *AbortError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("upload: aborted after %d attempts", e.Attempts)
	}

	return fmt.Sprintf("upload: aborted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes ErrUploadAborted and the last fragment failure.
func (e *AbortError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrUploadAborted}
	}

	return []error{ErrUploadAborted, e.Last}
}
