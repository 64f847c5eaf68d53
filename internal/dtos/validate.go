package dtos

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/GroupLang/agent-market-client/internal/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and wraps failures in utils.ErrInvalidPayload.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", utils.ErrInvalidPayload, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %v", utils.ErrInvalidPayload, err)
	}
	return nil
}
