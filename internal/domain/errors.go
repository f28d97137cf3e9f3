package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrPoolNotFound   = errors.New("pool not found")
	ErrSecretNotFound = errors.New("secret not found")
	ErrCredential     = errors.New("credential error")
	ErrBatchExecutor  = errors.New("batch executor error")
	ErrInvalidInput   = errors.New("invalid input")
)

// SecretResolutionError names a secret reference that does not exist in the backing store.
type SecretResolutionError struct {
	Reference string
}

func (e *SecretResolutionError) Error() string {
	return fmt.Sprintf("secret %q not found", e.Reference)
}

func (e *SecretResolutionError) Unwrap() error {
	return ErrSecretNotFound
}
