//go:build !unix

package proc

// WithUnlimitedCore is a no-op on platforms without rlimits.
func WithUnlimitedCore(fn func() error) error {
	return fn()
}
