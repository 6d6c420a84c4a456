package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidationError is a problem with one form field. Message is written to
// follow the field name, as in "data must not exceed 20000 characters".
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var b strings.Builder
	for i, ve := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ve.Error())
	}
	return b.String()
}

// Validator collects field errors. Each check reports whether it passed so
// callers can short-circuit dependent checks.
type Validator struct {
	errors ValidationErrors
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

func (v *Validator) Errors() ValidationErrors { return v.errors }

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) check(ok bool, field, message string) bool {
	if !ok {
		v.AddError(field, message)
	}
	return ok
}

func (v *Validator) ValidateRequired(field, value string) bool {
	return v.check(strings.TrimSpace(value) != "", field, "is required")
}

// ValidateMaxLength counts runes, not bytes.
func (v *Validator) ValidateMaxLength(field, value string, maxLength int) bool {
	return v.check(utf8.RuneCountInString(value) <= maxLength, field,
		"must not exceed "+strconv.Itoa(maxLength)+" characters")
}

// ValidateInteger parses a base 10 integer in [min, max].
func (v *Validator) ValidateInteger(field, value string, min, max int64) (int64, bool) {
	n, err := strconv.ParseInt(value, 10, 64)
	switch {
	case err != nil:
		v.AddError(field, "must be a valid number")
	case n < min:
		v.AddError(field, fmt.Sprintf("must be at least %d", min))
	case n > max:
		v.AddError(field, fmt.Sprintf("must not exceed %d", max))
	default:
		return n, true
	}
	return 0, false
}

// ValidateAlphanumeric accepts ASCII letters and digits plus any rune in
// extras.
func (v *Validator) ValidateAlphanumeric(field, value, extras string) bool {
	ok := !strings.ContainsFunc(value, func(r rune) bool {
		return !isASCIIAlnum(r) && !strings.ContainsRune(extras, r)
	})
	return v.check(ok, field, "contains invalid characters")
}

func isASCIIAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

// MaxUserpageLength is the default cap on a stored userpage, in runes.
const MaxUserpageLength = 20000

// ValidateUserpageForm checks an edited userpage body. An empty body is
// allowed and clears the page.
func ValidateUserpageForm(body string, maxLength int) ValidationErrors {
	v := NewValidator()

	if !utf8.ValidString(body) {
		v.AddError("data", "must be valid UTF-8")
		return v.Errors()
	}

	v.ValidateMaxLength("data", body, maxLength)

	return v.Errors()
}

// MaxUsernameLength bounds a username lookup from the URL.
const MaxUsernameLength = 32

// ValidateUsername checks a /u/{mid} segment that is not a numeric id.
func ValidateUsername(name string) ValidationErrors {
	v := NewValidator()

	if v.ValidateRequired("username", name) {
		if v.ValidateMaxLength("username", name, MaxUsernameLength) {
			v.ValidateAlphanumeric("username", name, " -_[]")
		}
	}

	return v.Errors()
}

// ValidateMemberID parses a numeric /u/{mid} segment.
func ValidateMemberID(mid string) (int64, ValidationErrors) {
	v := NewValidator()
	id, _ := v.ValidateInteger("mid", mid, 1, math.MaxInt64)
	return id, v.Errors()
}

// SanitizeInput normalises line endings and strips null bytes. Horizontal
// whitespace inside a line is left alone so [code] blocks keep their indent.
func SanitizeInput(input string) string {
	return strings.TrimRight(inputCleaner.Replace(input), " \t\n")
}

var inputCleaner = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// SanitizeLine collapses all whitespace runs for single-line fields.
func SanitizeLine(input string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(input, "\x00", "")), " ")
}
