// Package secrets resolves credential references and keeps the resolved
// values out of log output. Deployments pass the Redis password as a
// plain value, an env(VAR) reference, or a file(PATH) reference pointing
// at a mounted secret.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Resolve expands a credential reference:
//
//	env(VAR)    the value of the environment variable VAR
//	file(PATH)  the trimmed contents of PATH, e.g. a docker secret mount
//
// Anything else passes through unchanged as a literal.
func Resolve(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env(") && strings.HasSuffix(ref, ")"):
		name := ref[len("env(") : len(ref)-1]
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", name)
		}
		return value, nil

	case strings.HasPrefix(ref, "file(") && strings.HasSuffix(ref, ")"):
		path := ref[len("file(") : len(ref)-1]
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return ref, nil
}
