package script

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxBytes caps one uploaded game script payload.
	DefaultMaxBytes = 64 * 1024

	// DefaultMarker is the entrypoint the runtime image invokes; a script
	// without it can never serve a game.
	DefaultMarker = "function main("
)

type ValidationReason string

const (
	ReasonPayloadTooLarge ValidationReason = "payload_too_large"
	ReasonMalformed       ValidationReason = "malformed"
)

// ValidationError reports one user-correctable rejection of an uploaded script.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("script: validation failed (%s): %s", e.Reason, e.Detail)
}

// Validator checks size and structure of uploaded payloads before any record
// or runtime resource exists. Stateless.
type Validator struct {
	MaxBytes       int64
	RequiredMarker string
}

func NewValidator() *Validator {
	return &Validator{MaxBytes: DefaultMaxBytes, RequiredMarker: DefaultMarker}
}

// Validate rejects oversized or structurally broken payloads and returns
// normalized source text on success.
func (v *Validator) Validate(payload []byte, declaredSize int64) (string, error) {
	maxBytes := v.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if declaredSize > maxBytes || int64(len(payload)) > maxBytes {
		return "", &ValidationError{
			Reason: ReasonPayloadTooLarge,
			Detail: fmt.Sprintf("payload %d bytes exceeds ceiling %d", max(declaredSize, int64(len(payload))), maxBytes),
		}
	}
	if len(payload) == 0 {
		return "", &ValidationError{Reason: ReasonMalformed, Detail: "empty payload"}
	}
	if declaredSize >= 0 && declaredSize != int64(len(payload)) {
		return "", &ValidationError{
			Reason: ReasonMalformed,
			Detail: fmt.Sprintf("declared size %d does not match payload size %d", declaredSize, len(payload)),
		}
	}

	source := string(payload)
	if !utf8.ValidString(source) {
		return "", &ValidationError{Reason: ReasonMalformed, Detail: "payload is not valid utf-8"}
	}
	if strings.ContainsRune(source, 0) {
		return "", &ValidationError{Reason: ReasonMalformed, Detail: "payload contains nul byte"}
	}

	source = normalize(source)
	marker := v.RequiredMarker
	if marker == "" {
		marker = DefaultMarker
	}
	if !strings.Contains(source, marker) {
		return "", &ValidationError{
			Reason: ReasonMalformed,
			Detail: fmt.Sprintf("missing required entrypoint %q", marker),
		}
	}
	return source, nil
}

func normalize(source string) string {
	source = strings.TrimPrefix(source, "\uFEFF")
	source = strings.ReplaceAll(source, "\r\n", "\n")
	return strings.TrimRight(source, " \t\n") + "\n"
}
