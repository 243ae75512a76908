package validation

import (
	"strings"
	"testing"
)

// FuzzValidateResourceName checks that accepted names never carry path
// separators or traversal sequences.
func FuzzValidateResourceName(f *testing.F) {
	f.Add("hero")
	f.Add("pricing-table")
	f.Add("../etc")
	f.Add("a/b")
	f.Add("a\\b")
	f.Add("")
	f.Add("hero\x00")

	f.Fuzz(func(t *testing.T, name string) {
		if err := ValidateResourceName(name); err != nil {
			return
		}

		if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
			t.Errorf("accepted unsafe resource name %q", name)
		}
	})
}
