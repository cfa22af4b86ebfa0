package storage

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"trackhub/domain"
)

// mapError translates a store client failure into the domain error taxonomy.
// Status codes the retry policy already gave up on surface as transient so
// callers know the whole operation may be retried.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.TransientError{Err: err}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return domain.ErrNotFound
		case http.StatusConflict:
			return domain.ErrDuplicateKey
		case http.StatusPreconditionFailed:
			return domain.ErrConflict
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return domain.TransientError{Err: err}
		default:
			return domain.PermanentError{Err: err}
		}
	}
	return domain.TransientError{Err: err}
}
