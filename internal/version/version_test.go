package version

import "testing"

func TestStringIncludesBuildTriple(t *testing.T) {
	if got := String(); got != "duelengine dev (commit unknown, built unknown)" {
		t.Fatalf("String() = %q", got)
	}
}
