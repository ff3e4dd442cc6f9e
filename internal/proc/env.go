package proc

import "os"

// WithEnv runs fn with the given environment variables set, snapshotting
// the previous values first and restoring them on every exit path,
// including panics. Variables that were unset before are unset again.
func WithEnv(vars map[string]string, fn func() error) error {
	type saved struct {
		value string
		ok    bool
	}

	prev := make(map[string]saved, len(vars))
	for k, v := range vars {
		old, ok := os.LookupEnv(k)
		prev[k] = saved{value: old, ok: ok}
		os.Setenv(k, v)
	}
	defer func() {
		for k, s := range prev {
			if s.ok {
				os.Setenv(k, s.value)
			} else {
				os.Unsetenv(k)
			}
		}
	}()

	return fn()
}
