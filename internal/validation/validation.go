// Package validation provides input validation for PolyBuilder requests.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid request")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Solidity identifiers, used for contract names.
var identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Explorer compiler versions look like v0.8.20+commit.a1b79de6.
var compilerVersionRegex = regexp.MustCompile(`^v\d+\.\d+\.\d+\+commit\.[0-9a-f]{8}$`)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report JSON field names so messages match the request body.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})

		_ = validate.RegisterValidation("solident", func(fl validator.FieldLevel) bool {
			return identifierRegex.MatchString(fl.Field().String())
		})
	})
	return validate
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error collects the field errors of a request.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *Error) Unwrap() error { return ErrInvalid }

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "eth_addr":
		return fe.Field() + " must be a 0x-prefixed 20-byte hex address"
	case "solident":
		return fe.Field() + " must be a valid Solidity identifier"
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if err := instance().Var(addr, "required,eth_addr"); err != nil {
		return fmt.Errorf("%w: address %q is not a 0x-prefixed 20-byte hex address", ErrInvalid, addr)
	}
	return nil
}

// ValidateContractName checks that name is a Solidity identifier.
func ValidateContractName(name string) error {
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%w: contract name %q is not a valid identifier", ErrInvalid, name)
	}
	return nil
}

// ValidateSolcVersion validates a bare compiler release such as 0.8.20.
func ValidateSolcVersion(v string) error {
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("solc version cannot be empty")
	}
	if !semver.IsValid("v"+normalized) || strings.Count(normalized, ".") != 2 {
		return fmt.Errorf("invalid solc version %q: must be in format X.Y.Z", v)
	}
	if semver.Compare("v"+normalized, "v0.4.11") < 0 {
		return fmt.Errorf("solc version %q is too old: standard JSON requires 0.4.11 or later", v)
	}
	return nil
}

// ValidateCompilerVersion validates the long form explorers expect, e.g.
// v0.8.20+commit.a1b79de6.
func ValidateCompilerVersion(v string) error {
	if !compilerVersionRegex.MatchString(v) || !semver.IsValid(v) {
		return fmt.Errorf("invalid compiler version %q: must look like v0.8.20+commit.a1b79de6", v)
	}
	return nil
}

// CompilerRelease extracts the release (0.8.20) from a long compiler version.
func CompilerRelease(v string) string {
	return strings.TrimPrefix(semver.Canonical(v), "v")
}
