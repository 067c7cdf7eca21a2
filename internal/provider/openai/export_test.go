// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package openai

// Normalize exposes normalize for white-box testing.
var Normalize = normalize
