package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/devrev/ringkv/internal/errors"
)

const (
	// Size limits, counted in characters
	MaxKeySize   = 20
	MaxValueSize = 120000
)

// Validator checks keys and values at the protocol boundary
type Validator struct {
	maxKeySize   int
	maxValueSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:   MaxKeySize,
		maxValueSize: MaxValueSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxValueSize int) *Validator {
	return &Validator{
		maxKeySize:   maxKeySize,
		maxValueSize: maxValueSize,
	}
}

// ValidateWrite validates the key and value of a PUT
func (v *Validator) ValidateWrite(key, value string) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	return v.ValidateValue(value)
}

// ValidateKey rejects empty keys, keys with whitespace, keys that cannot
// name a record file and keys longer than the limit
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return errors.InvalidKey(key, "key cannot be empty")
	}

	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return errors.InvalidKey(key, "key cannot contain whitespace")
	}

	if key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return errors.InvalidKey(key, "key cannot contain path separators")
	}

	if n := utf8.RuneCountInString(key); n > v.maxKeySize {
		return errors.KeyTooLarge(n, v.maxKeySize)
	}

	return nil
}

// ValidateValue rejects values longer than the limit. Empty values are
// allowed.
func (v *Validator) ValidateValue(value string) error {
	if n := utf8.RuneCountInString(value); n > v.maxValueSize {
		return errors.ValueTooLarge(n, v.maxValueSize)
	}
	return nil
}
