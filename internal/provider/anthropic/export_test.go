// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package anthropic

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/adviso-dev/adviso/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(req provider.Request, defaultModel string) (anthropicsdk.MessageNewParams, error) {
	return buildParams(req, defaultModel)
}

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	return convertMessages(msgs)
}
