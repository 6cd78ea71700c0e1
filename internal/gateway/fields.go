package gateway

// immutableProfileFields change only through identity operations.
var immutableProfileFields = []string{"id", "email", "password"}

// StripImmutableFields returns a copy of fields without id, email, and password.
func StripImmutableFields(fields map[string]any) map[string]any {
	stripped := make(map[string]any, len(fields))
	for key, value := range fields {
		stripped[key] = value
	}
	for _, key := range immutableProfileFields {
		delete(stripped, key)
	}
	return stripped
}
