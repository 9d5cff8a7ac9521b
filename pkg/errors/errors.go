// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigAlreadyExists        Code = "config.bootstrap.conflict"

	CodeIngestExtractUnsupported   Code = "ingest.extract.unsupported"
	CodeIngestExtractFailure       Code = "ingest.extract.failure"
	CodeIngestExtractEmpty         Code = "ingest.extract.invalid_input"
	CodeIngestFetchInvalidInput    Code = "ingest.fetch.invalid_input"
	CodeIngestFetchUpstreamFailure Code = "ingest.fetch.upstream_failure"
	CodeIngestFetchTimeout         Code = "ingest.fetch.timeout"
	CodeIngestSaveFailure          Code = "ingest.save.failure"
	CodeIngestListFailure          Code = "ingest.list.failure"
	CodeIngestListInvalid          Code = "ingest.list.invalid_input"
	CodeIngestWatchFailure         Code = "ingest.watch.failure"

	CodeChunkConfigInvalid Code = "chunk.config.invalid"

	CodeEmbedBackendUnsupported Code = "embed.backend.unsupported"
	CodeEmbedConfigInvalid      Code = "embed.config.invalid"
	CodeEmbedRequestInvalid     Code = "embed.request.invalid_input"
	CodeEmbedUpstreamFailure    Code = "embed.request.upstream_failure"
	CodeEmbedResponseInvalid    Code = "embed.response.upstream_failure"
	CodeEmbedModelLoadFailure   Code = "embed.model.load.failure"

	CodeVectorBackendUnsupported Code = "vector.backend.unsupported"
	CodeVectorOpenFailure        Code = "vector.open.failure"
	CodeVectorNamespaceNotFound  Code = "vector.namespace.not_found"
	CodeVectorInvalidInput       Code = "vector.request.invalid_input"
	CodeVectorDatabaseFailure    Code = "vector.database.failure"
	CodeVectorUpstreamFailure    Code = "vector.remote.upstream_failure"

	CodeRAGInvalidInput    Code = "rag.request.invalid_input"
	CodeRAGCreateConflict  Code = "rag.create.conflict"
	CodeRAGNotFound        Code = "rag.namespace.not_found"
	CodeRAGSourceNotFound  Code = "rag.source.not_found"
	CodeRAGNoNamespace     Code = "rag.retrieve.not_found"
	CodeRAGUnavailable     Code = "rag.retrieve.unavailable"
	CodeRAGGenerateFailure Code = "rag.generate.upstream_failure"
	CodeRAGIngestFailure   Code = "rag.ingest.failure"

	CodeDefaultRAGInvalidInput Code = "defaultrag.set.invalid_input"
	CodeDefaultRAGReadFailure  Code = "defaultrag.read.failure"
	CodeDefaultRAGWriteFailure Code = "defaultrag.write.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.unavailable"
	CodeProviderNoDefault       Code = "provider.routing.unavailable_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_input"
	CodeProviderKeyInvalid      Code = "provider.key.invalid"
	CodeProviderKeyCheckFailed  Code = "provider.key.check.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerRateLimited      Code = "server.ratelimit.exceeded"

	CodeCLIGatewayNotRunning Code = "cli.gateway.not_running"
	CodeCLIRequestFailure    Code = "cli.request.failure"
	CodeCLIResponseInvalid   Code = "cli.response.invalid"
	CodeCLISetupFailure      Code = "cli.setup.failure"
	CodeCLIInputInvalid      Code = "cli.input.invalid"

	CodeSecretInvalidInput   Code = "secret.request.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"
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

func FieldNamespace(value string) Attr {
	return Field("namespace", value)
}

func FieldSource(value string) Attr {
	return Field("source", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldBackend(value string) Attr {
	return Field("backend", value)
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

// With adds structured fields to an existing error chain, keeping its code.
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

func IsUnsupported(err error) bool {
	return reason(CodeOf(err)) == "unsupported"
}

func IsUnavailable(err error) bool {
	r := reason(CodeOf(err))
	return r == "unavailable" || r == "unavailable_default"
}

func IsRateLimited(err error) bool {
	return reason(CodeOf(err)) == "exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	if reason(code) == "upstream_failure" {
		return true
	}
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err), IsUnsupported(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "forbidden" || reason(CodeOf(err)) == "denied" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
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
