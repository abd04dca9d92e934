package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Fingerprint is the canonical cache key input. The derived key is a pure,
// order-independent function of the declared fields; callers may supply
// capabilities and constraints in any order.
type Fingerprint struct {
	Kind         string
	Capabilities []string
	Constraints  map[string]string
}

// Key builds the deterministic cache key.
func (f Fingerprint) Key() string {
	capabilities := append([]string(nil), f.Capabilities...)
	sort.Strings(capabilities)

	constraintKeys := make([]string, 0, len(f.Constraints))
	for k := range f.Constraints {
		constraintKeys = append(constraintKeys, k)
	}
	sort.Strings(constraintKeys)

	var b strings.Builder
	b.WriteString("kind=")
	b.WriteString(f.Kind)
	b.WriteString(";caps=")
	b.WriteString(strings.Join(capabilities, ","))
	for _, k := range constraintKeys {
		fmt.Fprintf(&b, ";%s=%s", k, f.Constraints[k])
	}
	return b.String()
}
