// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import "context"

// AuthMiddleware exposes authMiddleware to external tests.
var AuthMiddleware = authMiddleware

// ContextWithUser injects an AuthenticatedUser into a context for testing.
func ContextWithUser(ctx context.Context, user *AuthenticatedUser) context.Context {
	return context.WithValue(ctx, authUserKey, user)
}
