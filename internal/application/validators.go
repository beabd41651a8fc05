package application

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// NewValidator returns a validator with the arbiter's custom tags
// registered. It is used for configuration, API bodies and judge verdicts.
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return v, nil
}

// RegisterValidators adds the slotid and storagepath tags to v.
// RegisterValidators returns an error if any registration fails.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("slotid", validateSlotID); err != nil {
		return fmt.Errorf("failed to register slotid validator: %w", err)
	}
	if err := v.RegisterValidation("storagepath", validateStoragePath); err != nil {
		return fmt.Errorf("failed to register storagepath validator: %w", err)
	}
	if err := v.RegisterValidation("winnerid", validateWinnerID); err != nil {
		return fmt.Errorf("failed to register winnerid validator: %w", err)
	}
	return nil
}

// validateSlotID accepts reference, main and alt_N.
func validateSlotID(fl validator.FieldLevel) bool {
	return domain.IsSlotID(fl.Field().String())
}

// validateWinnerID accepts any slot id plus tie and undefined.
func validateWinnerID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return id == domain.WinnerTie || id == domain.WinnerUndefined || domain.IsSlotID(id)
}

// validateStoragePath rejects paths that climb out of their base directory
// once cleaned, and paths containing NUL.
func validateStoragePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || strings.ContainsRune(p, 0) {
		return false
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return true
	}
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
