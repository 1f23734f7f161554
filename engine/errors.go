package engine

import "github.com/telemeet/sfu-coordinator/internal/errors"

const (
	// ErrFailedRequest: the HTTP request to the engine could not complete.
	ErrFailedRequest errors.Code = "engine request failed"
	// ErrNoneSuccessResponse: the engine answered with a non-2xx status.
	ErrNoneSuccessResponse errors.Code = "engine non-success response"
	// ErrInvalidPayload: the engine answered with a payload we cannot use.
	ErrInvalidPayload errors.Code = "engine invalid payload"
	// ErrNotFound: the referenced engine object no longer exists.
	ErrNotFound errors.Code = "engine object not found"
)
