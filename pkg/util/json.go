package util

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ParseJSON decodes data into a new T and checks it against its `validate` tags.
func ParseJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := validate.Struct(result); err != nil {
		return nil, fmt.Errorf("validate %T: %w", result, err)
	}
	return &result, nil
}

// ReadJSON reads at most limit bytes from r and parses them like ParseJSON.
func ReadJSON[T any](r io.Reader, limit int64) (*T, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return ParseJSON[T](data)
}
