package clicker

import (
	"testing"

	"go.uber.org/goleak"
)

// The loop must never start goroutines of its own.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
