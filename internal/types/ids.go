package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewDeliveryID generates a UUIDv7 identifier for a delivery.
// Used when the tracker omits one and for synthetic calendar ticks.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewDeliveryID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRunID generates a UUIDv7 identifier for one predicate or action run.
// Time-ordered IDs keep run log inserts clustered.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseDeliveryID validates a delivery identifier and returns its canonical
// lowercase form, which is how the run log stores it.
func ParseDeliveryID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid delivery id %q: %w", s, err)
	}
	return u.String(), nil
}

// DeliveryIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid or non-v7 UUIDs; caller should check IsZero().
func DeliveryIDTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
