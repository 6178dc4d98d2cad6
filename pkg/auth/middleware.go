package auth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/xchain-vault/pkg/app/errors"
	apphttp "github.com/chainsafe/xchain-vault/pkg/app/http"
)

// RequireSignature authenticates requests with a request-bound EIP-191
// signature. The recovered address becomes the caller.
func RequireSignature(verifier *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := verifier.Verify(r)
			if err != nil {
				logger.Debug("Rejected request signature",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				apphttp.DefaultErrorHandler(w, signatureError(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func signatureError(err error) error {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return apperrors.UnAuthorizedError(nil, "signer, signature, nonce and expiry required")
	case errors.Is(err, ErrNonceStore):
		return apperrors.DependencyError(err, "nonce store unavailable")
	case errors.Is(err, ErrSignatureExpired),
		errors.Is(err, ErrExpiryTooFar),
		errors.Is(err, ErrNonceReused),
		errors.Is(err, ErrInvalidNonce),
		errors.Is(err, ErrBodyTooLarge):
		return apperrors.UnAuthorizedError(err, err.Error())
	default:
		return apperrors.UnAuthorizedError(err, "invalid signature")
	}
}
