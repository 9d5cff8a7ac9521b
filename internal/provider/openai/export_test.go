// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"
	"github.com/ragd-dev/ragd/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
func BuildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	return buildParams("openai", req)
}
