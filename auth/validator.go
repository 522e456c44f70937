package auth

import (
	"fmt"
	"livecatalog-server/core"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Credentials is the body of the register and login routes.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func ValidateCredentials(c Credentials) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return nil
}
