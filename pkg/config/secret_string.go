package config

import (
	"fmt"
	"log/slog"
)

const masked = "*****"

func NewSecretString(value string) SecretString {
	return SecretString{value}
}

// SecretString holds a secret that must never show up in logs or printed configuration.
type SecretString struct {
	value string
}

func (s SecretString) String() string {
	return masked
}

func (s SecretString) Value() string {
	return s.value
}

func (s SecretString) IsZero() bool {
	return s.value == ""
}

func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(masked)
}

func (s *SecretString) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}

func (s *SecretString) UnmarshalYAML(unmarshal func(any) error) error {
	if err := unmarshal(&s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}

func (s SecretString) MarshalYAML() (interface{}, error) {
	if s.value == "" {
		return "", nil
	}
	return masked, nil
}
