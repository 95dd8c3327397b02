package commission

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY VALIDATION - Runs before any policy write
// =============================================================================

var policyValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(decimalAsFloat, decimal.Decimal{})
	return v
})

func decimalAsFloat(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// Validate rejects malformed policies: missing code or name, negative targets,
// percentages outside [0, 100]. AdvancedTarget below StandardTarget is allowed;
// the calculator clamps the advanced tier to zero width.
func (p Policy) Validate() error {
	err := policyValidator().Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs[1:] {
		reasons = append(reasons, fe.Field()+" "+describeFieldError(fe))
	}
	ve := &ValidationError{Field: fieldErrs[0].Field(), Reason: describeFieldError(fieldErrs[0])}
	if len(reasons) > 0 {
		ve.Reason += " (also: " + strings.Join(reasons, "; ") + ")"
	}
	return ve
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "failed " + fe.Tag()
	}
}
