// Package validation wraps go-playground/validator with English messages and JSON field names so
// request payloads and model output report failures the same way.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

const (
	tagHasContent     = "has_content"
	tagPasswordPolicy = "password_policy"
	tagEqualField     = "eqfield"

	minPasswordLength = 8
)

// Issue is a single failed constraint, addressed by its JSON path.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String renders the issue as "path: message".
func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Join renders issues as "path: message" pairs separated by "; ".
func Join(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.String())
	}
	return strings.Join(parts, "; ")
}

// Validator validates structs tagged with `validate` and translates failures to English.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New builds a Validator with the custom tags used across the service.
func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("failed to register default translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := validate.RegisterValidation(tagHasContent, hasContent); err != nil {
		return nil, fmt.Errorf("failed to register %s validation: %w", tagHasContent, err)
	}
	if err := validate.RegisterValidation(tagPasswordPolicy, satisfiesPasswordPolicy); err != nil {
		return nil, fmt.Errorf("failed to register %s validation: %w", tagPasswordPolicy, err)
	}

	translations := map[string]string{
		tagHasContent:     "{0} cannot be empty or contain only whitespace",
		tagPasswordPolicy: "{0} must have at least 8 characters including an upper-case letter, a digit and a special character",
		tagEqualField:     "{0} does not match",
	}
	for tag, text := range translations {
		if err := registerTranslation(validate, trans, tag, text); err != nil {
			return nil, err
		}
	}

	return &Validator{validate: validate, translator: trans}, nil
}

// MustNew is New for package-level initialisation where the registration cannot fail at runtime.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, text string) error {
	err := validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, text, true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(tag, fe.Field())
		return t
	})
	if err != nil {
		return fmt.Errorf("failed to register %s translation: %w", tag, err)
	}
	return nil
}

// Struct validates value and returns every failed constraint. A nil result means the value is valid.
func (v *Validator) Struct(value any) []Issue {
	err := v.validate.Struct(value)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []Issue{{Message: err.Error()}}
	}

	issues := make([]Issue, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		issues = append(issues, Issue{
			Field:   fieldPath(fieldError.Namespace()),
			Message: fieldError.Translate(v.translator),
		})
	}
	return issues
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if index := strings.Index(namespace, "."); index >= 0 {
		return namespace[index+1:]
	}
	return namespace
}

func hasContent(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func satisfiesPasswordPolicy(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	if len([]rune(password)) < minPasswordLength {
		return false
	}
	var hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSpecial = true
		}
	}
	return hasUpper && hasDigit && hasSpecial
}
