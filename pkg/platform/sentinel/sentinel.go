package sentinel

import "errors"

// ErrNotFound marks an absent entity at the store boundary. Stores return it
// (optionally wrapped) for missing and expired keys alike, so callers can
// translate "gone, whatever the reason" into protocol errors without caring
// which backend answered or why the key vanished.
var ErrNotFound = errors.New("not found")
