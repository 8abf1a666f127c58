// SPDX-License-Identifier: AGPL-3.0-only

// Package secretstore provides named key-value stores holding origin credentials.
//
// A Store is opened by name for every lookup and values are never cached, so
// rotated credentials take effect on the next request.
package secretstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrStoreUnavailable = errors.New("secret store unavailable")
	ErrKeyNotFound      = errors.New("secret key not found")
	ErrValueTooLong     = errors.New("secret value exceeds maximum length")
)

type Store interface {
	Open(ctx context.Context, name string) (Handle, error)
}

type Handle interface {
	// Get returns the value stored under key. Values longer than maxLen bytes
	// are rejected with ErrValueTooLong; maxLen <= 0 disables the check.
	Get(ctx context.Context, key string, maxLen int) (string, error)
}

func checkLen(key, value string, maxLen int) (string, error) {
	if maxLen > 0 && len(value) > maxLen {
		return "", fmt.Errorf("%w: %s (%d > %d bytes)", ErrValueTooLong, key, len(value), maxLen)
	}
	return value, nil
}
