// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// Password strength rules.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// DefaultPhoneRegion is used to parse phone numbers written without a
// country prefix.
const DefaultPhoneRegion = "US"

// taxIDRegex matches the XX-XXXXXXX employer identification format.
var taxIDRegex = regexp.MustCompile(`^\d{2}-\d{7}$`)

// Profile fields that may be changed after registration.
const (
	FieldFirstName    = "first_name"
	FieldLastName     = "last_name"
	FieldPhone        = "phone"
	FieldBusinessName = "business_name"
	FieldBusinessType = "business_type"
)

// RegistrationInput is the payload of a signup.
type RegistrationInput struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword string  `json:"confirm_password"`
	Role            string  `json:"role"`
	Profile         Profile `json:"profile"`
}

// Validate checks every registration rule and reports all violations at once.
func (in RegistrationInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required, validation.By(passwordStrength)),
		validation.Field(&in.ConfirmPassword, validation.Required, validation.By(matches(in.Password))),
	)
	violations := violationsOf(err)

	if _, roleErr := ParseRole(in.Role); roleErr != nil {
		violations = append(violations, "role: must be one of individual, business, admin")
	}
	if profileErr := validateProfile(in.Profile, true); profileErr != nil {
		violations = append(violations, violationsOf(profileErr)...)
	}

	if len(violations) > 0 {
		return NewValidationError(violations...)
	}
	return nil
}

// ValidateNewPassword checks strength and confirmation of a replacement password.
func ValidateNewPassword(password, confirm string) error {
	err := validation.Errors{
		"password": validation.Validate(password, validation.Required, validation.By(passwordStrength)),
		"confirm":  validation.Validate(confirm, validation.Required, validation.By(matches(password))),
	}.Filter()
	if violations := violationsOf(err); len(violations) > 0 {
		return NewValidationError(violations...)
	}
	return nil
}

// ValidateEmail checks the format of an email address.
func ValidateEmail(email string) error {
	if err := validation.Validate(strings.TrimSpace(email), validation.Required, is.Email); err != nil {
		return NewValidationError("email: " + err.Error())
	}
	return nil
}

// ProfileUpdate is the allow-listed set of mutable profile fields. Nil
// fields are left unchanged; role, email, verification and ID cannot be
// expressed here at all.
type ProfileUpdate struct {
	FirstName    *string
	LastName     *string
	Phone        *string
	BusinessName *string
	BusinessType *string
}

// ParseProfileUpdate builds a ProfileUpdate from loose key/value input,
// rejecting any key outside the allow-list.
func ParseProfileUpdate(fields map[string]string) (ProfileUpdate, error) {
	var update ProfileUpdate
	var rejected []string
	for key, value := range fields {
		v := value
		switch strings.ToLower(strings.TrimSpace(key)) {
		case FieldFirstName:
			update.FirstName = &v
		case FieldLastName:
			update.LastName = &v
		case FieldPhone:
			update.Phone = &v
		case FieldBusinessName:
			update.BusinessName = &v
		case FieldBusinessType:
			update.BusinessType = &v
		default:
			rejected = append(rejected, key+": field cannot be updated")
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return ProfileUpdate{}, NewValidationError(rejected...)
	}
	return update, nil
}

// IsEmpty reports whether the update changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil &&
		u.BusinessName == nil && u.BusinessType == nil
}

// Validate checks the provided fields.
func (u ProfileUpdate) Validate() error {
	if u.IsEmpty() {
		return NewValidationError("update: at least one field is required")
	}
	var p Profile
	u.Apply(&p)
	if err := validateProfile(p, false); err != nil {
		return NewValidationError(violationsOf(err)...)
	}
	return nil
}

// Apply writes the provided fields into p and returns the names of the
// fields that changed. Phone numbers are stored in E.164 form.
func (u ProfileUpdate) Apply(p *Profile) []string {
	var changed []string
	set := func(name string, dst *string, src *string) {
		if src == nil {
			return
		}
		v := strings.TrimSpace(*src)
		if name == FieldPhone && v != "" {
			if normalized, err := NormalizePhone(v, DefaultPhoneRegion); err == nil {
				v = normalized
			}
		}
		if *dst != v {
			*dst = v
			changed = append(changed, name)
		}
	}
	set(FieldFirstName, &p.FirstName, u.FirstName)
	set(FieldLastName, &p.LastName, u.LastName)
	set(FieldPhone, &p.Phone, u.Phone)
	set(FieldBusinessName, &p.BusinessName, u.BusinessName)
	set(FieldBusinessType, &p.BusinessType, u.BusinessType)
	return changed
}

// NormalizePhone parses a phone number and formats it as E.164.
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", err //nolint:wrapcheck // surfaced as a validation message
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validateProfile(p Profile, allowTaxID bool) error {
	errs := validation.Errors{
		FieldFirstName:    validation.Validate(p.FirstName, validation.RuneLength(0, 100)),
		FieldLastName:     validation.Validate(p.LastName, validation.RuneLength(0, 100)),
		FieldBusinessName: validation.Validate(p.BusinessName, validation.RuneLength(0, 200)),
		FieldBusinessType: validation.Validate(p.BusinessType, validation.RuneLength(0, 100)),
		FieldPhone:        validation.Validate(p.Phone, validation.By(phoneNumber)),
	}
	if allowTaxID {
		errs["tax_id"] = validation.Validate(p.TaxID,
			validation.Match(taxIDRegex).Error("must be in the format XX-XXXXXXX"))
	}
	return errs.Filter()
}

func passwordStrength(value interface{}) error {
	s, _ := value.(string)
	var problems []string
	n := utf8.RuneCountInString(s)
	if n < MinPasswordLength {
		problems = append(problems, "must be at least 8 characters")
	}
	if n > MaxPasswordLength {
		problems = append(problems, "must be at most 128 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !lower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !digit {
		problems = append(problems, "must contain a digit")
	}
	if !special {
		problems = append(problems, "must contain a special character")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, ", "))
	}
	return nil
}

func matches(password string) validation.RuleFunc {
	return func(value interface{}) error {
		if s, _ := value.(string); s != password {
			return errors.New("passwords do not match")
		}
		return nil
	}
}

func phoneNumber(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := NormalizePhone(s, DefaultPhoneRegion); err != nil {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// violationsOf flattens ozzo validation errors into sorted "field: rule" strings.
func violationsOf(err error) []string {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return []string{err.Error()}
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if errs[k] == nil {
			continue
		}
		out = append(out, strings.ToLower(k)+": "+errs[k].Error())
	}
	return out
}
