package attempt

import "errors"

// Errors returned by the attempt controller and its collaborators.
var (
	ErrRecordNotFound    = errors.New("attempt record not found")
	ErrCorruptRecord     = errors.New("attempt record is corrupt")
	ErrExamUnavailable   = errors.New("cannot load exam")
	ErrExamMismatch      = errors.New("attempt belongs to a different exam")
	ErrInvalidAnswer     = errors.New("invalid answer for question")
	ErrUnknownQuestion   = errors.New("question is not part of this exam")
	ErrSubmissionPending = errors.New("submission already in progress")
	ErrAlreadySubmitted  = errors.New("attempt already submitted")
	ErrSubmitFailed      = errors.New("submission failed")
	ErrClosed            = errors.New("attempt controller closed")
)
