// Package dialer establishes the upstream leg of a tunnel: either a
// direct dial to the origin, or a CONNECT handshake through a corporate
// upstream proxy, including the 407/Kerberos retry sequence.
package dialer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	retryInitialDelay = 500 * time.Millisecond
	retryMaxDelay     = 5 * time.Second
	retryMaxAttempts  = 5

	// readBudget bounds a single response read: one chunk, no streaming.
	readBudget = 2048
)

// DialError wraps a failure to reach or talk to Addr: the last dial error
// once the retry budget is exhausted, or a failed CONNECT write or read.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s: %v", e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// ProxyAuthError is returned when a 407 challenge is followed by a
// second non-2xx response after Kerberos negotiation.
type ProxyAuthError struct {
	StatusLine string
}

func (e *ProxyAuthError) Error() string {
	return "proxy authentication failed after Kerberos negotiation: " + e.StatusLine
}

// ProxyResponseError is returned for any non-2xx, non-407 CONNECT reply.
type ProxyResponseError struct {
	StatusLine string
}

func (e *ProxyResponseError) Error() string {
	return "upstream proxy rejected CONNECT: " + e.StatusLine
}

// dialWithRetry dials addr with exponential backoff: 500ms initial, 5s
// cap, 5 attempts max. Shared by dial_direct, the proxy dial inside
// dial_via_proxy, and the Kerberos pre-flight connection — one retry
// primitive backs all three, per original_source/http.rs's
// connect_with_retry.
func dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second}

	delay := retryInitialDelay
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}

	return nil, &DialError{Addr: addr, Err: lastErr}
}

// DialDirect dials the target host directly.
func DialDirect(ctx context.Context, target string) (net.Conn, error) {
	return dialWithRetry(ctx, target)
}

// DialViaProxy performs the CONNECT handshake against proxyAddr for
// target, transparently running the Kerberos negotiation once if the
// first attempt comes back 407.
func DialViaProxy(ctx context.Context, proxyAddr, target string) (net.Conn, error) {
	conn, status, err := connectOnce(ctx, proxyAddr, target)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(status, "HTTP/1.1 2"):
		return conn, nil

	case strings.HasPrefix(status, "HTTP/1.1 407"):
		conn.Close()

		if err := NegotiateKerberos(ctx, proxyAddr); err != nil {
			return nil, err
		}

		conn, status, err = connectOnce(ctx, proxyAddr, target)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(status, "HTTP/1.1 2") {
			conn.Close()
			return nil, &ProxyAuthError{StatusLine: status}
		}
		return conn, nil

	default:
		conn.Close()
		return nil, &ProxyResponseError{StatusLine: status}
	}
}

// connectOnce dials the proxy once, sends one CONNECT request, and reads
// the response status line (up to readBudget bytes). The caller owns the
// returned connection on success and must close it on any error path it
// doesn't propagate.
func connectOnce(ctx context.Context, proxyAddr, target string) (net.Conn, string, error) {
	conn, err := dialWithRetry(ctx, proxyAddr)
	if err != nil {
		return nil, "", err
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, "", &DialError{Addr: proxyAddr, Err: err}
	}

	buf := make([]byte, readBudget)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		conn.Close()
		return nil, "", &DialError{Addr: proxyAddr, Err: fmt.Errorf("proxy closed connection: %w", err)}
	}
	if n == 0 {
		conn.Close()
		return nil, "", &DialError{Addr: proxyAddr, Err: fmt.Errorf("proxy closed connection")}
	}

	statusLine := firstLine(buf[:n])
	return conn, statusLine, nil
}

func firstLine(b []byte) string {
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	if scanner.Scan() {
		return scanner.Text()
	}
	return string(b)
}
