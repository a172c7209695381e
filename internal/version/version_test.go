package version

import (
	"strings"
	"testing"
)

func TestString_IncludesBuildTriple(t *testing.T) {
	s := String()
	for _, part := range []string{"visualmem", Version, Commit, Date} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
