package handler

import (
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// deepLink accepts app-relative paths ("/messages") and full scheme URLs
// ("app://messages/t-1"). Anything else would be silently broken on tap.
func deepLink(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return strings.HasPrefix(v, "/") || strings.Contains(v, "://")
}

// RegisterValidations installs custom binding rules on gin's validator.
func RegisterValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("deeplink", deepLink)
	}
}
