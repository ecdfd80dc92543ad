package download

import "errors"

var (
	// ErrSizeUnknown indicates the size probe could not determine the
	// remote size, so windowed resume is impossible.
	ErrSizeUnknown = errors.New("size_unknown")

	// ErrForbidden indicates the server kept answering 403 after the
	// bounded per-window retries.
	ErrForbidden = errors.New("forbidden")

	// ErrBadStatus indicates a non-retryable HTTP status during download.
	ErrBadStatus = errors.New("bad_status")
)
