package design

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a generation is already in flight for the session.
	ErrBusy = errors.New("generation already in progress")

	// ErrRateLimited marks a visualization failure caused by upstream rate limiting.
	ErrRateLimited = errors.New("visualization rate limited, retry later")

	ErrInvalidBudget   = errors.New("budget must be greater than 0")
	ErrInvalidStyle    = errors.New("unknown style")
	ErrInvalidCategory = errors.New("unknown product category")
	ErrTooManyImages   = fmt.Errorf("at most %d room images are allowed", MaxImages)
	ErrImageIndex      = errors.New("image index out of range")
	ErrEmptyImage      = errors.New("image is empty")
	ErrStyleRequired   = errors.New("style is required")
	ErrResultNotFound  = errors.New("design result not found")
	ErrNoProducts      = errors.New("no recommended products to visualize")
	ErrNoRoomImage     = errors.New("no room image to visualize")

	// ErrSessionNotFound is returned by hosts that keep sessions by id.
	ErrSessionNotFound = errors.New("design session not found")
)

// QueryGenerationError wraps a failed call to the query generator. The attempt
// produced nothing usable.
type QueryGenerationError struct {
	Err error
}

func (e *QueryGenerationError) Error() string {
	return fmt.Sprintf("failed to generate design queries: %v", e.Err)
}

func (e *QueryGenerationError) Unwrap() error {
	return e.Err
}

// VisualizationError wraps a failed composite request. It never fails a
// generation; RateLimited distinguishes the throttled case.
type VisualizationError struct {
	StatusCode  int
	Body        string
	RateLimited bool
	Err         error
}

func (e *VisualizationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("visualization failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("visualization failed: %v", e.Err)
}

func (e *VisualizationError) Unwrap() error {
	return e.Err
}

func (e *VisualizationError) Is(target error) bool {
	return target == ErrRateLimited && e.RateLimited
}

// IsValidation reports whether err comes from rejected user input.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidBudget, ErrInvalidStyle, ErrInvalidCategory, ErrTooManyImages,
		ErrImageIndex, ErrEmptyImage, ErrStyleRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
