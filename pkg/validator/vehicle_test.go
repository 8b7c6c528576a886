package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidVehicles(t *testing.T) {
	validator := NewVehicleValidator()

	validVehicles := []struct {
		input    string
		expected string
		name     string
	}{
		{"WP CAB-1234", "WP CAB-1234", "Standard format"},
		{"wp cab-1234", "WP CAB-1234", "Lower case"},
		{"  WP   CAB-1234 ", "WP CAB-1234", "Extra whitespace"},
		{"KA01AB1234", "KA01AB1234", "No separators"},
		{"EV-7", "EV-7", "Short"},
	}

	for _, tc := range validVehicles {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.Validate(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidate_InvalidVehicles(t *testing.T) {
	validator := NewVehicleValidator()

	invalidVehicles := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyVehicle, "Empty string"},
		{"   ", ErrEmptyVehicle, "Whitespace only"},
		{"A", ErrInvalidVehicleLength, "Too short"},
		{"ABCDEFGHIJKLMNOPQ", ErrInvalidVehicleLength, "Too long"},
		{"WP#CAB", ErrInvalidVehicleFormat, "Symbol"},
		{"WP--CAB", ErrInvalidVehicleFormat, "Double dash"},
		{"-WPCAB", ErrInvalidVehicleFormat, "Leading dash"},
	}

	for _, tc := range invalidVehicles {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(tc.input)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestIsValid(t *testing.T) {
	validator := NewVehicleValidator()
	assert.True(t, validator.IsValid("WP CAB-1234"))
	assert.False(t, validator.IsValid("??"))
}
