package params

import (
	"os"
	"regexp"

	"modelcore/internal/errdefs"
)

var envRef = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Interpolate resolves ${env:VAR} and ${env:VAR:-default} references.
// An unset variable without a default is a configuration error.
func Interpolate(s string) (string, error) {
	return interpolate(s, os.LookupEnv)
}

func interpolate(s string, lookup func(string) (string, bool)) (string, error) {
	var missing string
	out := envRef.ReplaceAllStringFunc(s, func(m string) string {
		sub := envRef.FindStringSubmatch(m)
		if v, ok := lookup(sub[1]); ok && v != "" {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		if missing == "" {
			missing = sub[1]
		}
		return ""
	})
	if missing != "" {
		return "", errdefs.Configf("environment variable %s is not set", missing)
	}
	return out, nil
}
