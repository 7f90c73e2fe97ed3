package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/majorcontext/girasol/internal/errdefs"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("tracename", func(fl validator.FieldLevel) bool {
			return namePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks d before it is stored or started. The returned error wraps
// errdefs.ErrInvalid.
func Validate(d TraceDefinition) error {
	v := validatorInstance()
	if err := v.Struct(d); err != nil {
		return errdefs.Invalid("definition %q: %s", d.Name, describe(err))
	}
	switch c := d.Content.(type) {
	case nil:
		return errdefs.Invalid("definition %q: missing content", d.Name)
	case *SystemTap:
		if err := v.Struct(c); err != nil {
			return errdefs.Invalid("definition %q: %s", d.Name, describe(err))
		}
	case *PerfBranch:
		if err := v.Struct(c); err != nil {
			return errdefs.Invalid("definition %q: %s", d.Name, describe(err))
		}
		f := c.Frequency.Normalized()
		if f.Mode == FrequencyModeSpecific && f.Value == 0 {
			return errdefs.Invalid("definition %q: specific frequency must be positive", d.Name)
		}
	}
	return nil
}

// ValidateRounds checks a per-start iteration override.
func ValidateRounds(n uint) error {
	if uint64(n) > MaxIterations {
		return errdefs.Invalid("rounds %d exceeds %d", n, MaxIterations)
	}
	return nil
}

// describe flattens validator errors into one line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
