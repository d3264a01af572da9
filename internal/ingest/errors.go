package ingest

import "errors"

// Error kinds. Implementations wrap these so callers can classify with errors.Is.
var (
	// ErrRemoteUnavailable marks transport or auth failures talking to the remote directory.
	ErrRemoteUnavailable = errors.New("remote directory unavailable")

	// ErrNotFound marks a missing remote or local entity.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks a request rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrMalformedEvent marks a message payload that can never be processed.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrPersistenceConflict marks a multi-row write that was rolled back.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// Folder validation kinds, each wrapping ErrValidation.
var (
	ErrTeamRequired       = &kindError{msg: "team id required", kinds: []error{ErrValidation}}
	ErrParentNotFound     = &kindError{msg: "parent folder not found", kinds: []error{ErrValidation, ErrNotFound}}
	ErrInvalidHierarchy   = &kindError{msg: "folder type not allowed here", kinds: []error{ErrValidation}}
	ErrFolderHasDocuments = &kindError{msg: "folder already holds documents", kinds: []error{ErrValidation}}
)

// kindError is a sentinel that also matches the broader kinds it belongs to.
type kindError struct {
	msg   string
	kinds []error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() []error { return e.kinds }

// IsPermanent reports whether a message-processing error will never succeed
// on retry, so the message should be acknowledged and dropped.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrNotFound)
}
