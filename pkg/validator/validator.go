package validator

import (
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/labstack/echo/v4"
)

// CustomValidator wraps the validator instance for Echo.
type CustomValidator struct {
	validator  *validator.Validate
	translator ut.Translator
	now        func() time.Time
}

func New() *CustomValidator {
	cv := &CustomValidator{now: time.Now}

	validate := validator.New()

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, key := range []string{"json", "form"} {
			tag := field.Tag.Get(key)
			if tag == "" {
				continue
			}

			name := strings.SplitN(tag, ",", 2)[0]
			if name != "-" && name != "" {
				return name
			}
		}

		return field.Name
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")

	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic("failed to register validator default translations: " + err.Error())
	}

	registerRule(validate, trans, "future", "{0} must be in the future", cv.validateFuture)
	registerRule(validate, trans, "email_tld", "{0} must end with a top-level domain of at least two letters", validateEmailTLD)

	cv.validator = validate
	cv.translator = trans

	return cv
}

func registerRule(validate *validator.Validate, trans ut.Translator, tag, message string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic("failed to register " + tag + " validation: " + err.Error())
	}

	err := validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
	if err != nil {
		panic("failed to register " + tag + " translation: " + err.Error())
	}
}

var emailTLD = regexp.MustCompile(`@[^@]+\.[a-zA-Z]{2,}$`)

// validateEmailTLD tightens the email rule: the domain must end in a dot and at
// least two letters.
func validateEmailTLD(fl validator.FieldLevel) bool {
	return emailTLD.MatchString(fl.Field().String())
}

// validateFuture accepts a time.Time (or *time.Time) strictly after now. Zero
// times fail; pair with omitempty for optional fields.
func (cv *CustomValidator) validateFuture(fl validator.FieldLevel) bool {
	field := fl.Field()

	t, ok := field.Interface().(time.Time)
	if !ok {
		return false
	}

	return t.After(cv.now())
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{
				Errors: cv.translateErrors(validationErrors),
			}
		}
		return err
	}
	return nil
}

func (cv *CustomValidator) translateErrors(errs validator.ValidationErrors) map[string]string {
	errors := make(map[string]string)
	for _, err := range errs {
		field := err.Field()
		errors[field] = err.Translate(cv.translator)
	}
	return errors
}

type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	var messages []string
	for field, msg := range e.Errors {
		messages = append(messages, field+": "+msg)
	}
	return strings.Join(messages, "; ")
}

// FieldError builds a ValidationError for a single field, for rules checked
// outside struct tags.
func FieldError(field, message string) *ValidationError {
	return &ValidationError{Errors: map[string]string{field: message}}
}

type ValidationErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func HandleValidationError(c echo.Context, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusUnprocessableEntity, ValidationErrorResponse{
			Success: false,
			Error:   "Validation failed",
			Details: ve.Errors,
		})
	}
	return c.JSON(http.StatusBadRequest, ValidationErrorResponse{
		Success: false,
		Error:   err.Error(),
	})
}
