package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/models"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// MaxLocationLen bounds city and country names, in runes.
const MaxLocationLen = 100

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		_, err := ValidateLocation(fl.Field().String())
		return err == nil
	})
	return v
}

// FetchWeatherRequest is the body of a fetch.
type FetchWeatherRequest struct {
	CityName string `json:"cityName" validate:"required,location"`
	Country  string `json:"country" validate:"required,location"`
}

// Normalize trims surrounding whitespace so cache keys are stable.
func (r *FetchWeatherRequest) Normalize() {
	r.CityName = strings.TrimSpace(r.CityName)
	r.Country = strings.TrimSpace(r.Country)
}

// UpdateWeatherRequest is the body of a partial update. Omitted fields keep their value.
type UpdateWeatherRequest struct {
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=-100,lte=100"`
	Description *string  `json:"description" validate:"omitempty,max=255"`
	Humidity    *int     `json:"humidity" validate:"omitempty,gte=0,lte=100"`
	WindSpeed   *float64 `json:"windSpeed" validate:"omitempty,gte=0"`
}

// ToUpdate converts the request to the domain update.
func (r UpdateWeatherRequest) ToUpdate() models.WeatherUpdate {
	return models.WeatherUpdate{
		Temperature: r.Temperature,
		Description: r.Description,
		Humidity:    r.Humidity,
		WindSpeed:   r.WindSpeed,
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Struct validates v and returns the first failure as an *apperror.ValidationError.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.Validation("", err.Error())
	}
	fe := verrs[0]
	return apperror.Validation(fe.Field(), describe(fe))
}

// Update validates an update request and rejects one that changes nothing.
func Update(r UpdateWeatherRequest) error {
	if r.ToUpdate().IsEmpty() {
		return apperror.Validation("", "at least one of temperature, description, humidity, windSpeed is required")
	}
	return Struct(r)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "location":
		return describeLocation(fe.Value())
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return "is invalid"
	}
}

// ValidateLocation trims the input, enforces the length bound (MaxLocationLen runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen,
// apostrophe and period.
// Returns the trimmed string.
func ValidateLocation(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrLocationEmpty
	}
	if len(r) > MaxLocationLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// locationCharsMessage names exactly the characters isAllowedLocationRune accepts.
const locationCharsMessage = "must contain only letters, digits, spaces, commas, hyphens, apostrophes or periods"

func describeLocation(v any) string {
	s, _ := v.(string)
	_, err := ValidateLocation(s)
	switch {
	case errors.Is(err, ErrLocationTooLong):
		return fmt.Sprintf("must be at most %d characters", MaxLocationLen)
	case errors.Is(err, ErrLocationEmpty):
		return "is required"
	default:
		return locationCharsMessage
	}
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}
