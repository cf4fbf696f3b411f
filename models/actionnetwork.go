package models

import "maps"

// SignupPerson is a person in the OSDI shape expected by Action Network.
type SignupPerson struct {
	Identifiers     []string        `json:"identifiers"`
	GivenName       string          `json:"given_name"`
	FamilyName      string          `json:"family_name"`
	EmailAddresses  []EmailAddress  `json:"email_addresses"`
	PostalAddresses []PostalAddress `json:"postal_addresses"`
	CustomFields    map[string]any  `json:"custom_fields"`
}

type EmailAddress struct {
	Address string `json:"address"`
}

type PostalAddress struct {
	PostalCode string `json:"postal_code"`
}

// SignupRequest is the body posted to the person signup helper.
type SignupRequest struct {
	Person  SignupPerson `json:"person"`
	AddTags []string     `json:"add_tags,omitempty"`
}

// WithCustomField returns a copy of the schema with one extra custom field.
// The receiver, usually a cached value shared between groups, is left untouched.
func (s *SignupPerson) WithCustomField(key string, value any) *SignupPerson {
	clone := *s
	clone.CustomFields = maps.Clone(s.CustomFields)
	if clone.CustomFields == nil {
		clone.CustomFields = map[string]any{}
	}
	clone.CustomFields[key] = value
	return &clone
}
