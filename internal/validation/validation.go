package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Errors maps a field name to the human-readable violations found for it.
type Errors map[string][]string

// Add appends a violation message for a field.
func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Empty reports whether no violations were recorded.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Rule describes the constraints applied to a single field. Zero values mean
// the constraint is not applied.
type Rule struct {
	Field       string
	Required    bool
	Email       bool
	Integer     bool
	Min         int    // minimum length in characters
	Max         int    // maximum length in characters
	ConfirmedBy string // name of a second field that must hold the same value
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Check runs a rule table against submitted values and returns every
// violation keyed by field. Optional fields that were not submitted are
// skipped entirely.
func Check(values map[string]string, rules []Rule) Errors {
	errs := Errors{}
	for _, rule := range rules {
		value := values[rule.Field]
		if value == "" {
			if rule.Required {
				errs.Add(rule.Field, fmt.Sprintf("The %s field is required.", rule.Field))
			}
			continue
		}

		if rule.Max > 0 && len(value) > rule.Max {
			errs.Add(rule.Field, fmt.Sprintf("The %s may not be greater than %d characters.", rule.Field, rule.Max))
		}
		if rule.Min > 0 && len(value) < rule.Min {
			errs.Add(rule.Field, fmt.Sprintf("The %s must be at least %d characters.", rule.Field, rule.Min))
		}
		if rule.Email && !emailRe.MatchString(value) {
			errs.Add(rule.Field, fmt.Sprintf("The %s must be a valid email address.", rule.Field))
		}
		if rule.Integer {
			if _, err := strconv.Atoi(value); err != nil {
				errs.Add(rule.Field, fmt.Sprintf("The %s must be an integer.", rule.Field))
			}
		}
		if rule.ConfirmedBy != "" && values[rule.ConfirmedBy] != value {
			errs.Add(rule.Field, fmt.Sprintf("The %s confirmation does not match.", rule.Field))
		}
	}
	return errs
}

// MaxImageBytes is the upload size cap for profile pictures.
const MaxImageBytes = 2048 * 1024

var allowedImageExts = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".svg":  true,
}

// CheckImage validates an uploaded image by extension and size, recording
// violations under field.
func CheckImage(errs Errors, field, filename string, size int64) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedImageExts[ext] {
		errs.Add(field, fmt.Sprintf("The %s must be a file of type: jpeg, png, jpg, gif, svg.", field))
	}
	if size > MaxImageBytes {
		errs.Add(field, fmt.Sprintf("The %s may not be greater than 2048 kilobytes.", field))
	}
}
