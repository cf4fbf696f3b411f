package models

// Operation is a kind of change a group can apply to its backend.
type Operation string

const (
	OpAdd Operation = "add"
)

// Operations lists every operation a group may queue, in resolution order.
var Operations = []Operation{OpAdd}

func (o Operation) String() string {
	return string(o)
}

// Credentials are the backend specific secrets of a group, such as an API key.
type Credentials map[string]string

// Get returns the credential stored under key, or "".
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}
