package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MaxRequestBytes bounds a protocol request body.
const MaxRequestBytes = 64 << 10

const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1, "maxLength": 64},
		"convoId": {"type": "string", "maxLength": 256},
		"text": {"type": "string", "maxLength": 10000},
		"url": {"type": "string", "maxLength": 8192},
		"position": {
			"type": "object",
			"required": ["x", "y"],
			"properties": {
				"x": {"type": "integer"},
				"y": {"type": "integer"}
			}
		}
	}
}`

// ErrInvalidEnvelope marks a request that does not match the envelope schema.
var ErrInvalidEnvelope = errors.New("invalid request envelope")

// EnvelopeValidator checks raw protocol requests against the envelope schema.
type EnvelopeValidator struct {
	schema *jsonschema.Schema
}

// NewEnvelopeValidator compiles the envelope schema.
func NewEnvelopeValidator() (*EnvelopeValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		return nil, err
	}
	schema, err := c.Compile("envelope.json")
	if err != nil {
		return nil, err
	}
	return &EnvelopeValidator{schema: schema}, nil
}

// Validate checks one JSON document.
func (v *EnvelopeValidator) Validate(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

// Middleware rejects bodies that are too large or do not match the schema.
// The body is buffered so the next handler can read it again.
func (v *EnvelopeValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBytes+1))
		_ = r.Body.Close()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) > MaxRequestBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		if err := v.Validate(body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request envelope")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
