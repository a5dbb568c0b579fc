// internal/transport/transporttest/addr.go
package transporttest

import (
	"net"
	"testing"
)

// FreeAddr returns a loopback host:port that was free a moment ago, for
// servers that cannot report the port they bound.
func FreeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}
	return addr
}
