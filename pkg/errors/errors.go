// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeSecurityInjectionDetected      Code = "security.input.injection_detected"
	CodeSecurityOutputValidationFailed Code = "security.output.validation_failed"
	CodeSecurityAuditWriteFailure      Code = "security.audit.write_failure"

	CodePromptTokenLimitExceeded Code = "prompt.budget.token_limit_exceeded"
	CodePromptLayerInvalid       Code = "prompt.layer.invalid_input"
	CodePromptWarmerClosed       Code = "prompt.warmer.closed"

	CodeAdmissionRateLimitExceeded Code = "admission.window.rate_limit_exceeded"
	CodeAdmissionConfigInvalid     Code = "admission.config.invalid_value"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderRateLimited     Code = "provider.upstream.rate_limited"
	CodeProviderTokenError      Code = "provider.upstream.token_error"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"

	CodeDedupEmbeddingFailure Code = "dedup.embedding.failure"
	CodeDedupStoreFailure     Code = "dedup.store.failure"

	CodeMaintenancePartitionStepFailed Code = "maintenance.partition.step_failed"
	CodeMaintenanceJobConflict         Code = "maintenance.job.conflict"
	CodeMaintenanceJobNotFound         Code = "maintenance.job.not_found"
	CodeMaintenancePeriodInvalid       Code = "maintenance.period.invalid_value"

	CodeStoreEntryNotFound   Code = "store.entry.get.not_found"
	CodeStoreJobNotFound     Code = "store.job.get.not_found"
	CodeStoreConflict        Code = "store.conflict"
	CodeStoreInvalidInput    Code = "store.invalid_input"
	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreBatchTooLarge   Code = "store.batch.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerStartFailure     Code = "server.start.failure"

	CodeCLIInputInvalid   Code = "cli.input.invalid"
	CodeCLISetupFailure   Code = "cli.setup.failure"
	CodeCLIRequestFailure Code = "cli.request.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPartition(value string) Attr {
	return Field("partition", value)
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldActor(value string) Attr {
	return Field("actor", value)
}

func FieldJobID(value string) Attr {
	return Field("job_id", value)
}

// FieldRetryAfter attaches the wait until the caller's window resets.
func FieldRetryAfter(d time.Duration) Attr {
	return Field("retry_after_ms", d.Milliseconds())
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

// RetryAfterOf extracts the retry-after duration attached to an admission
// rejection. Returns zero when the error carries none.
func RetryAfterOf(err error) time.Duration {
	fields := FieldsOf(err)
	if fields == nil {
		return 0
	}
	switch v := fields["retry_after_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	default:
		return 0
	}
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsRateLimited(err error) bool {
	r := reason(CodeOf(err))
	return r == "rate_limit_exceeded" || r == "rate_limited"
}

func IsSecurityBlock(err error) bool {
	r := reason(CodeOf(err))
	return r == "injection_detected" || r == "validation_failed"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsSecurityBlock(err):
		return http.StatusUnprocessableEntity
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if r := reason(CodeOf(err)); r == "forbidden" || r == "denied" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsRateLimited(err), HasCode(err, CodePromptTokenLimitExceeded):
		return http.StatusTooManyRequests
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
