// errors.go: structured error taxonomy for the stratacache engine
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package stratacache

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for stratacache operations, grouped the way go-errors
// consumers elsewhere in the ecosystem group theirs: business outcomes,
// then infra failures, then protocol-level ones.
const (
	// Business outcomes — not failures, just answers.
	ErrCodeNotFound  errors.ErrorCode = "STRATACACHE_NOT_FOUND"
	ErrCodeNotStored errors.ErrorCode = "STRATACACHE_NOT_STORED"
	ErrCodeExists    errors.ErrorCode = "STRATACACHE_EXISTS"

	// Client errors
	ErrCodeClientError errors.ErrorCode = "STRATACACHE_CLIENT_ERROR"

	// Capacity errors
	ErrCodeL1Full = errors.ErrorCode("STRATACACHE_L1_FULL")

	// Infra failures
	ErrCodeStorage      errors.ErrorCode = "STRATACACHE_STORAGE_ERROR"
	ErrCodeCorruptFrame errors.ErrorCode = "STRATACACHE_CORRUPT_FRAME"
	ErrCodeCorruptRead  errors.ErrorCode = "STRATACACHE_CORRUPT_READ"

	// Scheduling errors
	ErrCodeTimeout    errors.ErrorCode = "STRATACACHE_TIMEOUT"
	ErrCodeOverloaded errors.ErrorCode = "STRATACACHE_OVERLOADED"
	ErrCodeShutdown   errors.ErrorCode = "STRATACACHE_SHUTDOWN"
)

// ErrNotFound reports that a key has no live entry in either tier.
func ErrNotFound(key string) error {
	return errors.NewWithField(ErrCodeNotFound, "key not found", "key", key)
}

// ErrNotStored reports an ADD/REPLACE/APPEND/PREPEND precondition failure.
func ErrNotStored(op, key string) error {
	return errors.NewWithContext(ErrCodeNotStored, "not stored", map[string]interface{}{
		"operation": op,
		"key":       key,
	})
}

// ErrExists reports a CAS token mismatch.
func ErrExists(key string, want, got uint64) error {
	return errors.NewWithContext(ErrCodeExists, "cas mismatch", map[string]interface{}{
		"key":         key,
		"request_cas": want,
		"current_cas": got,
	})
}

// ErrClient wraps a malformed-command or bad-input condition.
func ErrClient(reason string) error {
	return errors.NewWithField(ErrCodeClientError, reason, "reason", reason)
}

// ErrL1Full reports L1 admission failure with L2 disabled.
func ErrL1Full(key string) error {
	return errors.NewWithField(ErrCodeL1Full, "out of memory", "key", key).AsRetryable()
}

// ErrStorage wraps a persistent-KV I/O failure as a non-fatal, per-command error.
func ErrStorage(op string, cause error) error {
	return errors.Wrap(cause, ErrCodeStorage, "storage error").
		WithContext(map[string]interface{}{"operation": op}).
		AsRetryable()
}

// ErrCorruptFrame reports a compressor framing violation.
func ErrCorruptFrame(reason string) error {
	return errors.NewWithField(ErrCodeCorruptFrame, "corrupt frame", "reason", reason)
}

// ErrCorruptRead reports an unreadable L2 record; the caller deletes it and
// answers the command as a miss.
func ErrCorruptRead(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeCorruptRead, "corrupt read").
		WithContext(map[string]interface{}{"key": key})
}

// ErrTimeout reports a command-deadline expiry.
func ErrTimeout(op string) error {
	return errors.NewWithField(ErrCodeTimeout, "timeout", "operation", op).AsRetryable()
}

// ErrOverloaded reports blocking-pool backpressure.
func ErrOverloaded(op string) error {
	return errors.NewWithField(ErrCodeOverloaded, "overloaded", "operation", op).AsRetryable()
}

// ErrShutdown reports a command that arrived during graceful shutdown.
func ErrShutdown() error {
	return errors.New(ErrCodeShutdown, "server shutting down")
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.HasCode(err, ErrCodeNotFound) }

// IsNotStored reports whether err is (or wraps) ErrNotStored.
func IsNotStored(err error) bool { return errors.HasCode(err, ErrCodeNotStored) }

// IsExists reports whether err is (or wraps) ErrExists.
func IsExists(err error) bool { return errors.HasCode(err, ErrCodeExists) }

// IsClientError reports whether err is (or wraps) ErrClient.
func IsClientError(err error) bool { return errors.HasCode(err, ErrCodeClientError) }

// IsL1Full reports whether err is (or wraps) ErrL1Full.
func IsL1Full(err error) bool { return errors.HasCode(err, ErrCodeL1Full) }

// IsStorageError reports whether err is (or wraps) ErrStorage.
func IsStorageError(err error) bool { return errors.HasCode(err, ErrCodeStorage) }

// IsCorrupt reports whether err is a corrupt-frame or corrupt-read condition.
func IsCorrupt(err error) bool {
	return errors.HasCode(err, ErrCodeCorruptFrame) || errors.HasCode(err, ErrCodeCorruptRead)
}

// IsTimeout reports whether err is (or wraps) ErrTimeout.
func IsTimeout(err error) bool { return errors.HasCode(err, ErrCodeTimeout) }

// IsOverloaded reports whether err is (or wraps) ErrOverloaded.
func IsOverloaded(err error) bool { return errors.HasCode(err, ErrCodeOverloaded) }

// Code extracts the go-errors ErrorCode carried by err, if any.
func Code(err error) (errors.ErrorCode, bool) {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode(), true
	}
	return "", false
}
