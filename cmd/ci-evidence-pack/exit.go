package main

import (
	"encoding/json"
	"strings"

	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
	"github.com/OrygnsCode/ci-evidence-pack/core/output"
)

const (
	exitOK = 0
	// exitInvalidInput covers bad usage and every runtime failure.
	exitInvalidInput = 1
	// exitEvidenceInvalid means the command ran and the evidence failed a check.
	exitEvidenceInvalid = 2
)

// errorOutput is the JSON payload for failures that have no richer result.
type errorOutput struct {
	Error string `json:"error"`
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	if coreerrors.Is(err, coreerrors.CategoryVerification) {
		return exitEvidenceInvalid
	}
	return exitInvalidInput
}

// writeJSONOutput prints payload through the emitter. When the payload
// carries an error the envelope fields error_code, error_category, hint, and
// retryable are added, taken from cause when it is classified.
func writeJSONOutput(emitter *output.Emitter, payload any, cause error, exitCode int) int {
	result, err := withErrorEnvelope(payload, cause, exitCode)
	if err != nil {
		result = map[string]any{
			"error":          "failed to encode output",
			"error_code":     "encode_failed",
			"error_category": string(coreerrors.CategoryInternalFailure),
			"hint":           "",
			"retryable":      false,
		}
		exitCode = exitInvalidInput
	}
	if err := emitter.JSON(result); err != nil {
		return exitInvalidInput
	}
	return exitCode
}

func withErrorEnvelope(payload any, cause error, exitCode int) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, err
	}
	errorText, _ := result["error"].(string)
	if strings.TrimSpace(errorText) != "" {
		envelope, _ := coreerrors.Describe(cause)
		if envelope.Category == "" {
			envelope.Category = defaultErrorCategory(exitCode)
		}
		if envelope.Code == "" {
			envelope.Code = string(envelope.Category)
		}
		if envelope.Hint == "" {
			envelope.Hint = defaultHint(exitCode)
		}
		result["error_code"] = envelope.Code
		result["error_category"] = string(envelope.Category)
		result["hint"] = envelope.Hint
		result["retryable"] = envelope.Retryable
	}
	return result, nil
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	if exitCode == exitEvidenceInvalid {
		return coreerrors.CategoryVerification
	}
	return coreerrors.CategoryInternalFailure
}

func defaultHint(exitCode int) string {
	if exitCode == exitEvidenceInvalid {
		return "the bundle does not match its manifest; rebuild it from trusted inputs"
	}
	return "rerun with --debug for details"
}
