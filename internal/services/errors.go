package services

import "errors"

var (
	// ErrListingNotFound means no listing exists for the slug at all.
	ErrListingNotFound = errors.New("listing not found")

	// ErrListingUnavailable means the listing exists but cannot be purchased:
	// cancelled, already sold out, or otherwise inactive. Detected before any
	// payment is attempted.
	ErrListingUnavailable = errors.New("listing unavailable")

	// ErrSoldOut is the post-settlement variant of unavailability: the buyer's
	// payment settled but a concurrent purchase consumed the last unit first.
	ErrSoldOut = errors.New("listing sold out")

	// ErrSlugConflict means slug generation kept colliding with existing
	// listings even after retries.
	ErrSlugConflict = errors.New("could not allocate a unique listing slug")

	// ErrValidation covers malformed create/update input.
	ErrValidation = errors.New("validation error")
)
