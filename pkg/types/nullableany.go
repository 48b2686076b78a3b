package types

import (
	"bytes"
	"encoding/json"
	"errors"
)

// NullableAny holds an arbitrary JSON value, distinguishing a JSON null from
// an absent value. The raw encoding is retained so that round trips through
// the worker protocol are byte-stable.
type NullableAny struct {
	value json.RawMessage
	valid bool
}

// IsNil reports whether no value is set.
func (na NullableAny) IsNil() bool {
	return !na.valid
}

// Set stores a value. Raw JSON inputs are validated; everything else is
// marshaled.
func (na *NullableAny) Set(value any) error {
	var raw json.RawMessage

	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			na.value = nil
			na.valid = false
			return errors.New("value is not valid JSON")
		}
		raw = v
	case []byte:
		if json.Valid(v) {
			raw = v
			break
		}
		marshaled, err := json.Marshal(value)
		if err != nil {
			na.value = nil
			na.valid = false
			return err
		}
		raw = marshaled
	default:
		marshaled, err := json.Marshal(value)
		if err != nil {
			na.value = nil
			na.valid = false
			return err
		}
		raw = marshaled
	}

	na.value = raw
	na.valid = true
	return nil
}

// Get decodes the value into a generic representation. Returns nil when unset
// or undecodable.
func (na NullableAny) Get() any {
	if !na.valid {
		return nil
	}
	var v any
	if err := json.Unmarshal(na.value, &v); err != nil {
		return nil
	}
	return v
}

// GetAs decodes the value into v.
func (na NullableAny) GetAs(v any) error {
	if !na.valid {
		return errors.New("value is not set")
	}
	return json.Unmarshal(na.value, v)
}

// Equals compares two values by their raw encodings.
func (na NullableAny) Equals(other NullableAny) bool {
	if na.valid && other.valid {
		return bytes.Equal(na.value, other.value)
	}
	return na.valid == other.valid
}

func (na NullableAny) MarshalJSON() ([]byte, error) {
	if na.valid {
		return na.value, nil
	}
	return json.Marshal(nil)
}

func (na *NullableAny) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		na.value = nil
		na.valid = false
		return nil
	}
	if !json.Valid(data) {
		na.value = nil
		na.valid = false
		return errors.New("invalid JSON")
	}
	na.value = data
	na.valid = true
	return nil
}

// NullableAnyFrom builds a NullableAny from any JSON-serialisable value.
func NullableAnyFrom(value any) (NullableAny, error) {
	var na NullableAny
	if err := na.Set(value); err != nil {
		return NullableAny{}, err
	}
	return na, nil
}

// NullableAnySetRaw wraps already-validated raw JSON without copying.
func NullableAnySetRaw(value json.RawMessage) NullableAny {
	return NullableAny{value: value, valid: true}
}

// NilAny returns an unset NullableAny.
func NilAny() NullableAny {
	return NullableAny{}
}

var (
	_ json.Marshaler   = NullableAny{}
	_ json.Unmarshaler = &NullableAny{}
	_ Nullable         = NullableAny{}
)
