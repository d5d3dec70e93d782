package lock

import (
	"fmt"
	"strings"
)

const keySeparator = ":"

// Key builds a lock key of the form <domain>:<operation>:<id>. Domain and
// operation must be non-empty and free of separators; id must be non-empty
// and may contain anything.
func Key(domain, operation, id string) (string, error) {
	switch {
	case domain == "" || strings.Contains(domain, keySeparator):
		return "", fmt.Errorf("%w: domain %q", ErrInvalidKey, domain)
	case operation == "" || strings.Contains(operation, keySeparator):
		return "", fmt.Errorf("%w: operation %q", ErrInvalidKey, operation)
	case id == "":
		return "", fmt.Errorf("%w: empty id", ErrInvalidKey)
	}
	return domain + keySeparator + operation + keySeparator + id, nil
}

// MustKey is like Key but panics on invalid input. It is meant for constant
// keys such as singleton sweep keys.
func MustKey(domain, operation, id string) string {
	k, err := Key(domain, operation, id)
	if err != nil {
		panic(err)
	}
	return k
}
