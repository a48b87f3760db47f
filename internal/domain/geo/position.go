package geo

import (
	"fmt"
	"math"
	"time"

	"bus-tracker/internal/domain/apperrors"
)

// Position is a single coordinate sample reported by the driver's device.
type Position struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

var (
	ErrInvalidLatitude  = fmt.Errorf("%w: latitude must be between -90 and 90", apperrors.ErrValidation)
	ErrInvalidLongitude = fmt.Errorf("%w: longitude must be between -180 and 180", apperrors.ErrValidation)
	ErrInvalidAccuracy  = fmt.Errorf("%w: accuracy_meters cannot be negative", apperrors.ErrValidation)
)

// NewPosition builds a Position captured at capturedAt (now when zero) and validates it.
func NewPosition(latitude, longitude float64, accuracyMeters *float64, capturedAt time.Time) (Position, error) {
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	p := Position{
		Latitude:       latitude,
		Longitude:      longitude,
		AccuracyMeters: accuracyMeters,
		CapturedAt:     capturedAt.UTC(),
	}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

// Validate checks coordinate ranges. Bounds are inclusive and nothing is clamped.
func (p Position) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidLongitude
	}
	if p.AccuracyMeters != nil {
		if *p.AccuracyMeters < 0 || math.IsNaN(*p.AccuracyMeters) || math.IsInf(*p.AccuracyMeters, 0) {
			return ErrInvalidAccuracy
		}
	}
	return nil
}

// Accuracy returns the reported accuracy and whether one was reported.
func (p Position) Accuracy() (float64, bool) {
	if p.AccuracyMeters == nil {
		return 0, false
	}
	return *p.AccuracyMeters, true
}

// Clone returns a deep copy so callers never share the accuracy pointer.
func (p Position) Clone() Position {
	if p.AccuracyMeters != nil {
		acc := *p.AccuracyMeters
		p.AccuracyMeters = &acc
	}
	return p
}
