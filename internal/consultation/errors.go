package consultation

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidProfile   = errors.New("invalid patient profile")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image exceeds 10 MB")
	ErrNoAnalysis       = errors.New("no analysis available")
	ErrNoActiveChat     = errors.New("no active chat session")
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrSharingDisabled  = errors.New("report sharing is not configured")

	// ErrUpstream wraps failures of the model provider.
	ErrUpstream = errors.New("upstream service failed")
)
