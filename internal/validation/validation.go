// Package validation checks caller-supplied lookup parameters before they
// reach the pipeline.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxFieldLen bounds city and country length in runes.
const MaxFieldLen = 100

var (
	// ErrCityRequired is returned when city is empty or whitespace-only after trim.
	ErrCityRequired = errors.New("city is required")
	// ErrFieldTooLong is returned when a field exceeds MaxFieldLen.
	ErrFieldTooLong = errors.New("field too long")
	// ErrInvalidChars is returned when a field contains disallowed characters.
	ErrInvalidChars = errors.New("field contains invalid characters")
	// ErrOutOfRange is returned for paging values outside their bounds.
	ErrOutOfRange = errors.New("value out of range")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		for _, c := range fl.Field().String() {
			if !isAllowedLocationRune(c) {
				return false
			}
		}
		return true
	})
	return v
}

// Query is a validated current-weather lookup. Fields are trimmed but not
// lower-cased; normalization is left to the service layer.
type Query struct {
	City    string `validate:"required,max=100,location"`
	Country string `validate:"omitempty,max=100,location"`
}

// HistoryQuery is a validated history listing request. City is optional.
type HistoryQuery struct {
	City    string `validate:"omitempty,max=100,location"`
	Country string `validate:"omitempty,max=100,location"`
	Limit   int    `validate:"gte=0,lte=500"`
	Offset  int    `validate:"gte=0"`
}

// ValidateQuery trims city and country and checks them. Errors wrap one of
// the package sentinels and are suitable for 400 INVALID_REQUEST responses.
func ValidateQuery(city, country string) (Query, error) {
	q := Query{City: strings.TrimSpace(city), Country: strings.TrimSpace(country)}
	if err := validate.Struct(q); err != nil {
		return Query{}, translate(err)
	}
	return q, nil
}

// ValidateHistoryQuery trims and checks history parameters.
func ValidateHistoryQuery(city, country string, limit, offset int) (HistoryQuery, error) {
	q := HistoryQuery{
		City:    strings.TrimSpace(city),
		Country: strings.TrimSpace(country),
		Limit:   limit,
		Offset:  offset,
	}
	if err := validate.Struct(q); err != nil {
		return HistoryQuery{}, translate(err)
	}
	return q, nil
}

// translate maps the first validator failure onto a package sentinel.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return ErrCityRequired
	case "max":
		return fmt.Errorf("%w: %s exceeds %d characters", ErrFieldTooLong, field, MaxFieldLen)
	case "location":
		return fmt.Errorf("%w: %s", ErrInvalidChars, field)
	default:
		return fmt.Errorf("%w: %s", ErrOutOfRange, field)
	}
}

// isAllowedLocationRune returns true for letters (Unicode), digits, space,
// hyphen, apostrophe and period.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '-', '\'', '.':
		return true
	}
	return false
}
