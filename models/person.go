package models

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// participateMarker is the spreadsheet mark meaning "wants to take part in actions".
const participateMarker = "X"

var validate = validator.New()

// RawRecord is one row of the sign-up roster, before any cleaning.
type RawRecord struct {
	FirstName     string `json:"firstName"`
	Surname       string `json:"surname"`
	Pronoun       string `json:"pronoun"`
	FBName        string `json:"fbName"`
	MMName        string `json:"mmName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	PostalCode    string `json:"postalCode"`
	Actions       string `json:"actions"`
	WorkingGroups string `json:"workingGroups"`
	Notes         string `json:"notes"`
	SubGroups     string `json:"subGroups"`
	Origin        string `json:"origin"`
	Identifier    string `json:"identifier,omitempty"`
}

// NameDefaults are substituted for missing first names and surnames.
type NameDefaults struct {
	FirstName string
	Surname   string
}

// Person is the canonical form of a roster entry.
type Person struct {
	Identifier  string
	Provisional bool

	FirstName            string
	Surname              string
	Pronoun              string
	FBName               string
	MMName               string
	Email                string
	Phone                string
	PostalCode           string
	ParticipateInActions bool
	WorkingGroups        []string
	Subgroups            []string
	Notes                []string
	Origin               string

	mu     sync.Mutex
	schema *SignupPerson
	now    func() time.Time
}

// NewPerson cleans a raw roster record. Missing names are replaced by the
// configured defaults and comma separated cells are split into trimmed lists.
// A provisional identifier is assigned when the record carries none.
func NewPerson(raw RawRecord, defaults NameDefaults) *Person {
	p := &Person{
		Pronoun:              strings.TrimSpace(raw.Pronoun),
		FBName:               strings.TrimSpace(raw.FBName),
		MMName:               strings.TrimSpace(raw.MMName),
		Email:                strings.TrimSpace(raw.Email),
		Phone:                strings.TrimSpace(raw.Phone),
		PostalCode:           strings.TrimSpace(raw.PostalCode),
		ParticipateInActions: strings.TrimSpace(raw.Actions) == participateMarker,
		WorkingGroups:        SplitList(raw.WorkingGroups),
		Subgroups:            SplitList(raw.SubGroups),
		Notes:                SplitList(raw.Notes),
		Origin:               strings.TrimSpace(raw.Origin),
		now:                  time.Now,
	}
	p.setNames(strings.TrimSpace(raw.FirstName), strings.TrimSpace(raw.Surname), defaults)

	if id := strings.TrimSpace(raw.Identifier); id != "" {
		p.Identifier = id
	} else {
		p.Identifier = uuid.NewString()
		p.Provisional = true
	}

	return p
}

func (p *Person) setNames(first, surname string, defaults NameDefaults) {
	switch {
	case first != "" && surname != "":
		p.FirstName, p.Surname = first, surname
	case first != "":
		p.FirstName, p.Surname = first, defaults.Surname
	case surname != "":
		p.FirstName, p.Surname = defaults.FirstName, surname
	default:
		p.FirstName, p.Surname = defaults.FirstName, defaults.Surname
	}
}

// SplitList splits a comma delimited cell, trimming entries and dropping empty ones.
func SplitList(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Name is the display name used in reports and emails.
func (p *Person) Name() string {
	return fmt.Sprintf("%s %s", p.FirstName, p.Surname)
}

// IsValid reports whether the person carries enough information to be synced:
// a first name, a surname and a well formed email address.
func (p *Person) IsValid() bool {
	if p.FirstName == "" || p.Surname == "" {
		return false
	}
	return validate.Var(p.Email, "required,email") == nil
}

// IsColead checks the notes for the "Co-Lead (<abbrev>)" tag.
func (p *Person) IsColead(groupAbbrev string) bool {
	return slices.Contains(p.Notes, fmt.Sprintf("Co-Lead (%s)", groupAbbrev))
}

// Schema returns the Action Network representation of the person. The first
// call builds and caches it, stamping the join date; later calls return the
// same value until Refresh is called. Callers must not mutate the result.
func (p *Person) Schema() *SignupPerson {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schema == nil {
		p.schema = p.buildSchema()
	}
	return p.schema
}

// Refresh drops the cached schema. Call it after changing any field once the
// schema has been produced.
func (p *Person) Refresh() {
	p.mu.Lock()
	p.schema = nil
	p.mu.Unlock()
}

func (p *Person) buildSchema() *SignupPerson {
	now := p.now
	if now == nil {
		now = time.Now
	}

	return &SignupPerson{
		Identifiers:     []string{p.Identifier},
		GivenName:       p.FirstName,
		FamilyName:      p.Surname,
		EmailAddresses:  []EmailAddress{{Address: p.Email}},
		PostalAddresses: []PostalAddress{{PostalCode: p.PostalCode}},
		CustomFields:    p.customFields(now()),
	}
}

func (p *Person) customFields(today time.Time) map[string]any {
	fields := map[string]any{}

	if p.Phone != "" {
		fields["phoneNumber"] = p.Phone
	}
	if p.FBName != "" {
		fields["facebookName"] = p.FBName
	}
	if p.MMName != "" {
		fields["mattermostHandle"] = p.MMName
	}
	if len(p.Notes) > 0 {
		fields["notes"] = strings.Join(p.Notes, ",")
	}
	if p.Pronoun != "" {
		fields["pronoun"] = p.Pronoun
	}
	if p.Origin != "" {
		fields["origin"] = p.Origin
	}

	fields["JoinDate"] = today.Format("2006-1-2")
	fields["participateInActions"] = p.ParticipateInActions

	return fields
}
