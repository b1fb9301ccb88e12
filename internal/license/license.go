// Package license gates the engine entry points behind an external license
// check. Verification itself lives outside the engine.
package license

import (
	"context"
	"fmt"

	apperrors "site-guardian/internal/errors"
)

// Gate reports whether the engine may run
type Gate interface {
	IsLicensed(ctx context.Context) bool
}

// Static is a gate with a fixed answer, usually taken from settings
type Static bool

// IsLicensed implements Gate
func (s Static) IsLicensed(context.Context) bool {
	return bool(s)
}

// Func adapts a plain function to a Gate
type Func func(ctx context.Context) bool

// IsLicensed implements Gate
func (f Func) IsLicensed(ctx context.Context) bool {
	return f(ctx)
}

// Require fails with UNLICENSED when gate refuses op. A nil gate refuses
// everything.
func Require(ctx context.Context, gate Gate, op string) error {
	if gate == nil || !gate.IsLicensed(ctx) {
		return apperrors.NewUnlicensedError(fmt.Sprintf("%s requires a valid license", op), nil).
			WithContext("operation", op)
	}
	return nil
}
