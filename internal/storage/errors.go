package storage

import "issuer/pkg/platform/sentinel"

// ErrNotFound keeps storage-specific absences consistent across the memory,
// Redis, and Postgres implementations.
var ErrNotFound = sentinel.ErrNotFound
