package server

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// taxIDRule accepts an 11-digit CPF, with or without the usual punctuation.
// Check-digit validation is left to the payment gateway.
func taxIDRule(fl validator.FieldLevel) bool {
	digits := 0
	for _, r := range fl.Field().String() {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return digits == 11
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("taxid", taxIDRule)
	}
}
