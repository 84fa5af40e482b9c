package dialer

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestDialDirectSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := DialDirect(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("DialDirect: %v", err)
	}
	conn.Close()
}

func TestDialDirectRetriesThenFails(t *testing.T) {
	// Pick a port, close it immediately so nothing listens there, and
	// verify we get a DialError after exhausting the retry budget
	// rather than hanging or erroring on the first attempt's shape.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	start := time.Now()
	_, err = DialDirect(ctx, addr)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error dialing closed port")
	}
	var dialErr *DialError
	if !asDialError(err, &dialErr) {
		t.Fatalf("expected *DialError, got %T: %v", err, err)
	}
	// 4 backoffs: 500ms+1s+2s+4s = 7.5s minimum before the 5th attempt.
	if elapsed < 7*time.Second {
		t.Errorf("elapsed = %v, expected at least ~7.5s of backoff", elapsed)
	}
}

func TestDialDirectContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = DialDirect(ctx, addr)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDialViaProxySuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := DialViaProxy(ctx, ln.Addr().String(), "example.com:443")
	if err != nil {
		t.Fatalf("DialViaProxy: %v", err)
	}
	conn.Close()
}

func TestDialViaProxyRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\n\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = DialViaProxy(ctx, ln.Addr().String(), "example.com:443")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want it to mention 403", err)
	}
}

// TestDialViaProxyTriggersKerberosOn407 verifies that a 407 response
// sends DialViaProxy down the negotiate-then-retry branch rather than
// treating it like any other non-2xx rejection. The sandbox running
// this test has no ticket cache, so negotiation itself fails fast —
// the point is confirming a *KerberosError (not a *ProxyResponseError)
// comes back, which only happens if the 407 branch ran.
func TestDialViaProxyTriggersKerberosOn407(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = DialViaProxy(ctx, ln.Addr().String(), "example.com:443")
	if err == nil {
		t.Fatal("expected error: test sandbox has no Kerberos ticket cache")
	}
	var kerbErr *KerberosError
	if !errors.As(err, &kerbErr) {
		t.Fatalf("expected *KerberosError from the negotiate branch, got %T: %v", err, err)
	}
}

func asDialError(err error, target **DialError) bool {
	de, ok := err.(*DialError)
	if ok {
		*target = de
	}
	return ok
}
