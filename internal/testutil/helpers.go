package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test unless BRCOMPAT_VM_TEST is set. Tests that need
// real netlink sockets, namespaces or multicast routing run only there.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("BRCOMPAT_VM_TEST") == "" {
		t.Skip("Skipping test: requires BRCOMPAT_VM_TEST environment")
	}
}
