package tips

import "errors"

var (
	// ErrValidation rejects empty tip or comment text and unusable images.
	ErrValidation = errors.New("validation failed")
	// ErrPayloadTooLarge rejects an attached image above the size limit.
	ErrPayloadTooLarge = errors.New("image exceeds size limit")
	// ErrStorageFailure marks a failed local write; in-memory state stays
	// authoritative until the next successful save.
	ErrStorageFailure = errors.New("local storage write failed")
	// ErrRemoteUnavailable marks a remote replica call that failed and was
	// replaced by the local fallback.
	ErrRemoteUnavailable = errors.New("remote replica unavailable")
	// ErrNotFound is returned by lookups for ids no longer in the collection.
	ErrNotFound = errors.New("tip not found")
)
