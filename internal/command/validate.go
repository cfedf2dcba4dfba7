package command

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
)

// commandValidate is the shared validator instance for command payloads.
var commandValidate *validator.Validate

func init() {
	commandValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = commandValidate.RegisterValidation("kebabcase", validateKebabCase)
}

func validateKebabCase(fl validator.FieldLevel) bool {
	return domain.ValidServiceName(fl.Field().String())
}

// Validate checks a command's shape before it reaches any state. Violations
// are reported as domain validation errors with the offending fields.
func Validate(cmd Command) error {
	err := commandValidate.Struct(cmd)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return domain.NewInternal(err, "validate %s payload", cmd.Kind())
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
		}
		return domain.NewValidation("%s rejected: invalid %s", cmd.Kind(), strings.Join(fields, ", "))
	}
	return domain.NewValidation("%s rejected: %v", cmd.Kind(), err)
}
