package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringArray is a custom type for JSONB-encoded string lists
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface for StringArray
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for StringArray")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*a = nil
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// FloatArray is a custom type for JSONB-encoded embedding vectors
type FloatArray []float64

// Value implements the driver.Valuer interface for FloatArray
func (a FloatArray) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal([]float64{})
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface for FloatArray
func (a *FloatArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for FloatArray")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*a = nil
		return nil
	}
	return json.Unmarshal(bytes, a)
}
