package torrc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidConfig = errors.New("invalid torrc config")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// a value spanning lines would be read back as separate lines
		_ = validate.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
			return !strings.ContainsAny(fl.Field().String(), "\r\n")
		})
	})
	return validate
}

// Validate checks that c can be written and read back unchanged.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := validatorInstance().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
