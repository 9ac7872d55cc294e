package validator

import (
	"admin_service/internal/domain"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidIdentity       = errors.New("invalid account identity")
	ErrInvalidRiskParameters = errors.New("invalid risk parameters")
	ErrInvalidRiskState      = errors.New("invalid risk state")
	ErrInvalidMessage        = errors.New("invalid message")
)

// Validator checks inbound records before they reach a data store.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (v *Validator) ValidateIdentity(identity domain.AccountIdentity) error {
	if err := v.validate.Struct(identity); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidIdentity, describe(err))
	}
	return nil
}

func (v *Validator) ValidateRiskParameters(parameters domain.RiskParameters) error {
	var errs []string
	if err := v.validate.Struct(parameters); err != nil {
		errs = append(errs, describe(err))
	}
	if parameters.BuyingPower.IsNegative() {
		errs = append(errs, "buying_power must not be negative")
	}
	if parameters.NetLoss.IsNegative() {
		errs = append(errs, "net_loss must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRiskParameters, strings.Join(errs, "; "))
	}
	return nil
}

func (v *Validator) ValidateRiskState(state domain.RiskState) error {
	if err := v.validate.Struct(state); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRiskState, describe(err))
	}
	return nil
}

func (v *Validator) ValidateMessage(message domain.Message) error {
	if err := v.validate.Struct(message); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, describe(err))
	}
	return nil
}

// Struct validates any tagged struct, such as a configuration.
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		return errors.New(describe(err))
	}
	return nil
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}
