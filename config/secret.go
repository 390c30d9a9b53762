package config

import (
	"gopkg.in/yaml.v3"
)

// SecretString wraps a credential. Non-empty values are redacted when
// printed.
type SecretString struct {
	value string
}

// NewSecretString creates a new SecretString with the given value.
func NewSecretString(value string) SecretString {
	return SecretString{value: value}
}

// Value returns the actual secret value.
func (s SecretString) Value() string {
	return s.value
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s.value != ""
}

// String returns a redacted representation for logging.
func (s SecretString) String() string {
	if s.value != "" {
		return "[hidden]"
	}
	return ""
}

// UnmarshalYAML implements yaml.Unmarshaler. The value may carry an
// optional !secret tag.
func (s *SecretString) UnmarshalYAML(node *yaml.Node) error {
	var value string
	if err := node.Decode(&value); err != nil {
		return err
	}
	s.value = value
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s SecretString) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!secret",
		Value: s.value,
	}, nil
}
