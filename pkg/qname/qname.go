// Package qname implements the qualified tool-name convention used across
// Nucleus: native tools are unprefixed, mounted tools are always exposed as
// "{mount_name}:{tool}". Adapted from the teacher's pkg/mcpname (a
// "service_method" canonical-name helper) to spec.md §3's mandatory
// "mount:tool" separator and character grammar.
package qname

import (
	"fmt"
	"regexp"
	"strings"
)

// validPattern is the regex every qualified name (native or mounted) must
// match, per spec.md §3.
var validPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_:-]*$`)

// Valid reports whether name matches the qualified-name grammar.
func Valid(name string) bool {
	return name != "" && validPattern.MatchString(name)
}

// Qualify builds the mounted-tool qualified name "{mount}:{tool}".
func Qualify(mount, tool string) string {
	return mount + ":" + tool
}

// Split separates a qualified name into its mount prefix and bare tool name.
// A name with no ":" is native and ok is false.
func Split(qualified string) (mount, tool string, ok bool) {
	idx := strings.Index(qualified, ":")
	if idx < 0 {
		return "", qualified, false
	}
	return qualified[:idx], qualified[idx+1:], true
}

// IsMounted reports whether qualified names a mounted (namespaced) tool.
func IsMounted(qualified string) bool {
	return strings.Contains(qualified, ":")
}

// MustQualify is Qualify with a validity assertion, used when constructing
// names from trusted internal input (e.g. mount persistence records).
func MustQualify(mount, tool string) string {
	q := Qualify(mount, tool)
	if !Valid(q) {
		panic(fmt.Sprintf("qname: invalid qualified name %q", q))
	}
	return q
}
