package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyVehicle indicates the vehicle identifier is empty
	ErrEmptyVehicle = errors.New("vehicle_id cannot be empty")

	// ErrInvalidVehicleLength indicates the identifier is shorter than 2 or longer than 16 characters
	ErrInvalidVehicleLength = errors.New("vehicle_id must be between 2 and 16 characters")

	// ErrInvalidVehicleFormat indicates the identifier contains characters other than letters, digits, spaces and dashes
	ErrInvalidVehicleFormat = errors.New("vehicle_id can only contain letters, digits, spaces and dashes")
)

const (
	minVehicleLength = 2
	maxVehicleLength = 16
)

// vehicleRegex matches a sanitized registration: alphanumeric groups joined by single spaces or dashes
var vehicleRegex = regexp.MustCompile(`^[A-Z0-9]+([ -][A-Z0-9]+)*$`)

// VehicleValidator handles vehicle registration validation
type VehicleValidator struct{}

// NewVehicleValidator creates a new vehicle validator instance
func NewVehicleValidator() *VehicleValidator {
	return &VehicleValidator{}
}

// Validate validates a vehicle registration.
// Accepts format: "wp cab-1234", " WP  CAB-1234 ", "KA01AB1234"
// Returns the sanitized identifier and an error if invalid
func (v *VehicleValidator) Validate(vehicleID string) (string, error) {
	sanitized := v.Sanitize(vehicleID)
	if sanitized == "" {
		return "", ErrEmptyVehicle
	}

	if len(sanitized) < minVehicleLength || len(sanitized) > maxVehicleLength {
		return "", ErrInvalidVehicleLength
	}

	if !vehicleRegex.MatchString(sanitized) {
		return "", ErrInvalidVehicleFormat
	}

	return sanitized, nil
}

// Sanitize upper-cases the identifier and collapses runs of whitespace
func (v *VehicleValidator) Sanitize(vehicleID string) string {
	return strings.ToUpper(strings.Join(strings.Fields(vehicleID), " "))
}

// IsValid is a convenience method that returns true if the identifier is valid
func (v *VehicleValidator) IsValid(vehicleID string) bool {
	_, err := v.Validate(vehicleID)
	return err == nil
}
