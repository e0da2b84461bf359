package domain

import "errors"

var (
	// ErrInvalidQuery is returned to query callers for missing or malformed parameters.
	ErrInvalidQuery = errors.New("invalid query parameter")

	// ErrPartitionNotFound means no event was ever written for the key.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrStorageUnavailable wraps transient storage failures on the write path.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInsecureSecret is returned when production runs with the default hashing secret.
	ErrInsecureSecret = errors.New("insecure ip hash secret")
)
