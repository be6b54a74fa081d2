package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrArticleNotFound signals an unknown article id.
	ErrArticleNotFound = errors.New("article not found")
	// ErrClusterNotFound signals an unknown story cluster id.
	ErrClusterNotFound = errors.New("story not found")
	// ErrUserNotFound signals an unknown user id.
	ErrUserNotFound = errors.New("user not found")
	// ErrSourceNotFound signals an unknown feed source id.
	ErrSourceNotFound = errors.New("source not found")
	// ErrInvalidInput signals a malformed request value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstreamUnavailable signals an embedding, generation or store dependency failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrProviderRejected signals a provider refusing a request as malformed; retrying it cannot help.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrGenerationTimeout signals an analysis generation that exceeded its deadline.
	ErrGenerationTimeout = errors.New("generation timeout")
	// ErrSourceExhausted signals a feed source deactivated after too many consecutive failures.
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrUnauthorized signals a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
)
