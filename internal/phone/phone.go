// Package phone normalizes phone numbers between the forms used by the
// messaging daemon (E.164, "+14155550123") and the SMS gateway
// (national digits for NANP numbers, "4155550123").
package phone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "US"

// ErrInvalid is returned for input that is not a valid phone number.
var ErrInvalid = errors.New("invalid phone number")

func parse(raw string) (*phonenumbers.PhoneNumber, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalid
	}
	// The gateway drops the "+"; a bare 11-digit NANP number still parses.
	if len(raw) == 11 && strings.HasPrefix(raw, "1") && isDigits(raw) {
		raw = "+" + raw
	}
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalid, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return num, nil
}

// SignalFormat returns raw in E.164 form.
func SignalFormat(raw string) (string, error) {
	num, err := parse(raw)
	if err != nil {
		return "", err
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// TeliFormat returns raw in the gateway's form: ten national digits for
// country code 1, E.164 digits without "+" otherwise.
func TeliFormat(raw string) (string, error) {
	num, err := parse(raw)
	if err != nil {
		return "", err
	}
	if num.GetCountryCode() == 1 {
		return strconv.FormatUint(num.GetNationalNumber(), 10), nil
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}

// IsSignalFormat reports whether s is already a valid E.164 number.
func IsSignalFormat(s string) bool {
	formatted, err := SignalFormat(s)
	return err == nil && formatted == s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
