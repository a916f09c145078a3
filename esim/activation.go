package esim

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Payload holds the parameters of a download attempt
type Payload struct {
	// SMDP is the SM-DP+ server address
	SMDP string `label:"SM-DP+ address" validate:"required,max=255"`

	// ActivationCode is the matching ID issued by the operator
	ActivationCode string `label:"activation code" validate:"required,max=255"`

	// ConfirmationCode is sent up front when already known, may be empty
	ConfirmationCode string `label:"confirmation code" validate:"omitempty,max=64"`
}

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("label")
	})
	return v
}

// Normalize returns a copy with every field trimmed
func (p Payload) Normalize() Payload {
	return Payload{
		SMDP:             strings.TrimSpace(p.SMDP),
		ActivationCode:   strings.TrimSpace(p.ActivationCode),
		ConfirmationCode: strings.TrimSpace(p.ConfirmationCode),
	}
}

// Validate checks the fields the server requires to start a download
func (p Payload) Validate() error {
	p = p.Normalize()
	if err := payloadValidator.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return WrapError(ErrInvalidActivationCode, "validate payload", err)
		}
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return NewError(ErrInvalidActivationCode, fe.Field()+" is required")
		case "max":
			return NewError(ErrInvalidActivationCode, fmt.Sprintf("%s is longer than %s characters", fe.Field(), fe.Param()))
		default:
			return NewError(ErrInvalidActivationCode, fe.Field()+" is invalid")
		}
	}
	if _, err := NormalizeSMDP(p.SMDP); err != nil {
		return err
	}
	return nil
}

func (p Payload) command() StartCommand {
	p = p.Normalize()
	return StartCommand{
		SMDP:             p.SMDP,
		ActivationCode:   p.ActivationCode,
		ConfirmationCode: p.ConfirmationCode,
	}
}

// ActivationCode is a parsed LPA activation code
type ActivationCode struct {
	SMDP                     string
	MatchingID               string
	OID                      string
	ConfirmationCodeRequired bool
}

// Payload converts the activation code into download parameters
func (a ActivationCode) Payload(confirmationCode string) Payload {
	return Payload{
		SMDP:             a.SMDP,
		ActivationCode:   a.MatchingID,
		ConfirmationCode: confirmationCode,
	}.Normalize()
}

// ParseActivationCode parses an activation code of the form
// LPA:1$<smdp>$<matching id>[$<oid>[$<confirmation code required>]].
// The LPA: prefix is optional.
func ParseActivationCode(raw string) (ActivationCode, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 4 && strings.EqualFold(s[:4], "LPA:") {
		s = s[4:]
	}

	parts := strings.Split(s, "$")
	if len(parts) < 3 || len(parts) > 5 {
		return ActivationCode{}, NewError(ErrInvalidActivationCode, fmt.Sprintf("expected 3 to 5 fields, got %d", len(parts)))
	}
	if parts[0] != "1" {
		return ActivationCode{}, NewError(ErrInvalidActivationCode, fmt.Sprintf("unsupported format %q", parts[0]))
	}

	code := ActivationCode{
		SMDP:       strings.TrimSpace(parts[1]),
		MatchingID: strings.TrimSpace(parts[2]),
	}
	if code.SMDP == "" {
		return ActivationCode{}, NewError(ErrInvalidActivationCode, "SM-DP+ address is empty")
	}
	if _, err := NormalizeSMDP(code.SMDP); err != nil {
		return ActivationCode{}, err
	}
	if len(parts) >= 4 {
		code.OID = strings.TrimSpace(parts[3])
	}
	if len(parts) == 5 {
		switch strings.TrimSpace(parts[4]) {
		case "1":
			code.ConfirmationCodeRequired = true
		case "", "0":
		default:
			return ActivationCode{}, NewError(ErrInvalidActivationCode, fmt.Sprintf("invalid confirmation code flag %q", parts[4]))
		}
	}
	return code, nil
}

// NormalizeSMDP returns the https address of an SM-DP+ server. A missing
// scheme defaults to https; any path is dropped.
func NormalizeSMDP(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", NewError(ErrInvalidActivationCode, "SM-DP+ address is empty")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", WrapError(ErrInvalidActivationCode, "parse SM-DP+ address", err)
	}
	if u.Host == "" {
		return "", NewError(ErrInvalidActivationCode, fmt.Sprintf("SM-DP+ address %q has no host", raw))
	}
	return "https://" + u.Host, nil
}
