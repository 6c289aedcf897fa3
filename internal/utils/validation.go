package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate *validator.Validate

var phonePattern = regexp.MustCompile(`^\d{7,15}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

func init() {
	validate = validator.New()
	RegisterCustomValidations()
}

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// NormalizePhone strips separators and a leading plus from a typed number
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(phoneSeparators.Replace(strings.TrimSpace(phone)), "+")
}

// IsValidPhone checks a phone number after normalization
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(NormalizePhone(phone))
}

// IsValidUUID checks if a string is a valid UUID
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsValidPhone(fl.Field().String())
	})
}
