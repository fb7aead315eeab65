package dto

import "github.com/go-playground/validator/v10"

var validate = validator.New()

type runToken struct {
	Token string `validate:"required,uuid4"`
}

// ValidRunToken reports whether a token looks like one we could have
// issued. Anything else is rejected before touching the state store.
func ValidRunToken(token string) bool {
	return validate.Struct(runToken{Token: token}) == nil
}
