package access

import (
	"fmt"

	"github.com/medrex/consent-ledger/pkg/types"
)

// ValidateText checks that value is non-empty and at most max bytes.
func ValidateText(field, value string, max int) error {
	if value == "" {
		return types.NewValidationError(fmt.Sprintf("%s is required", field))
	}
	if len(value) > max {
		return types.NewValidationError(fmt.Sprintf("%s exceeds %d bytes", field, max))
	}
	return nil
}

func validatePrincipal(field string, p types.Principal) error {
	if p.IsZero() {
		return types.NewValidationError(fmt.Sprintf("%s is required", field))
	}
	return nil
}
