package httpx

import "strings"

// ValidationError is returned by the parse step of an endpoint when the body is
// malformed or incomplete.
type ValidationError struct {
	Message string
	// Fields lists the offending field names (missing ones or, with Invalid set, malformed values).
	Fields  []string
	Invalid bool
	Details map[string]any
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) fieldsKey() string {
	if e.Invalid {
		return "invalidFields"
	}
	return "missingFields"
}

// Missing builds the error for absent or blank required fields.
func Missing(fields ...string) *ValidationError {
	return &ValidationError{Message: "Missing required fields", Fields: fields}
}

func Invalid(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// RequiredStrings returns the names of fields whose value is blank, in the given order.
func RequiredStrings(pairs ...[2]string) []string {
	var missing []string
	for _, p := range pairs {
		if strings.TrimSpace(p[1]) == "" {
			missing = append(missing, p[0])
		}
	}
	return missing
}
