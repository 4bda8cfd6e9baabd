package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
)

// DecodeError is a request body that could not be turned into a DTO.
// Messages are safe to return to the client.
type DecodeError struct {
	Messages []string
	// TooLarge is set when the body exceeded the configured limit.
	TooLarge bool
	// Malformed is set when the body is not parseable JSON.
	Malformed bool
}

func (e *DecodeError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// DecodeJSON reads a single JSON object from r into dst. Unknown fields,
// trailing data and type mismatches are rejected; an empty body decodes as {}.
func DecodeJSON(r *http.Request, dst any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &DecodeError{Messages: []string{"request entity too large"}, TooLarge: true}
		}
		return &DecodeError{Messages: []string{"invalid request payload"}}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		malformed := errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF)
		return &DecodeError{Messages: []string{decodeMessage(err)}, Malformed: malformed}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &DecodeError{Messages: []string{"request body must contain a single JSON object"}, Malformed: true}
	}
	return nil
}

func decodeMessage(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, ErrPriceNotNumber):
		return ErrPriceNotNumber.Error()
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return "malformed JSON request body"
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return "request body must be a JSON object"
		}
		if typeErr.Type != nil && typeErr.Type.Kind() == reflect.String {
			return fmt.Sprintf("%s must be a string", typeErr.Field)
		}
		return fmt.Sprintf("%s has an invalid type", typeErr.Field)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return fmt.Sprintf("property %s should not exist", name)
	default:
		return "invalid request payload"
	}
}
