package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList stores a slice of strings inside a JSON column.
type StringList []string

// Value implements driver.Valuer so StringList can be stored as JSON.
func (s StringList) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner to hydrate the StringList from the database.
func (s *StringList) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return unmarshalColumn(v, s)
	case string:
		return unmarshalColumn([]byte(v), s)
	default:
		return fmt.Errorf("domain.StringList: unsupported type %T", value)
	}
}

// Clone returns a copy of the underlying slice to avoid sharing memory.
func (s StringList) Clone() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Metadata stores free-form key/value details inside a JSON column.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}

	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return unmarshalColumn(v, m)
	case string:
		return unmarshalColumn([]byte(v), m)
	default:
		return fmt.Errorf("domain.Metadata: unsupported type %T", value)
	}
}

func unmarshalColumn(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
