package gitsync

// Sync failure reason constants
const (
	// ReasonCloneFailed indicates the remote repository could not be cloned.
	ReasonCloneFailed = "CloneFailed"

	// ReasonApplyFailed indicates local files could not be written during
	// reconciliation.
	ReasonApplyFailed = "ApplyFailed"

	// ReasonScratchFailed indicates the scratch checkout directory could not
	// be created.
	ReasonScratchFailed = "ScratchFailed"
)

// Error is a sync error with a machine-readable reason.
type Error struct {
	Err     error
	Message string
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}
