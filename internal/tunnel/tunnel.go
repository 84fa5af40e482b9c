// Package tunnel implements the per-connection state machine that
// sniffs a client's target, dials the right upstream (direct or via
// the corporate proxy), and relays bytes in both directions — switching
// upstream paths live if the host's subnet policy changes mid-flow.
package tunnel

import (
	"context"
	"net"
	"time"

	"subnetproxy/internal/config"
	"subnetproxy/internal/dialer"
	"subnetproxy/internal/hostsniffer"
	"subnetproxy/internal/metrics"
	"subnetproxy/internal/ui"
)

const successConnectResponse = "HTTP/1.1 200 Connection established\r\n\r\n"

// policyWatcher is the subset of *netpolicy.Watcher a Tunnel relies on.
// Declaring it here, rather than depending on the concrete type, lets
// tests drive a mid-flow policy change without going through real
// interface enumeration.
type policyWatcher interface {
	Current() config.ProxyConfig
	Subscribe() <-chan config.ProxyConfig
}

// readChunk is one read result handed from a background reader
// goroutine to the Tunnel's select loop.
type readChunk struct {
	data []byte
	err  error
	// gen ties a destination read to the dial generation it came from,
	// so a stale read from a connection we've since replaced is
	// recognized and discarded rather than acted on.
	gen int
}

type state int

const (
	stateInitializing state = iota
	stateForwarding
)

// Tunnel owns one accepted client connection for its whole lifetime.
type Tunnel struct {
	client  net.Conn
	watcher policyWatcher

	state  state
	target string

	dest    net.Conn
	destGen int

	upBytes, downBytes int64
}

// New builds a Tunnel for an accepted client connection. watcher is
// shared across every tunnel the listener spawns.
func New(client net.Conn, watcher policyWatcher) *Tunnel {
	return &Tunnel{
		client:  client,
		watcher: watcher,
		state:   stateInitializing,
	}
}

// Run drives the tunnel until the client or upstream connection closes,
// ctx is canceled, or an unrecoverable error occurs. It always closes
// the client connection before returning.
func (t *Tunnel) Run(ctx context.Context) {
	defer t.client.Close()

	start := time.Now()
	metrics.ActiveTunnels.Inc()
	defer func() {
		metrics.ActiveTunnels.Dec()
		metrics.TunnelDuration.Observe(time.Since(start).Seconds())
		if t.dest != nil {
			t.dest.Close()
		}
		if t.target != "" {
			ui.LogTunnelClose(t.target, t.upBytes, t.downBytes)
		}
	}()

	policyCh := t.watcher.Subscribe()
	clientReadCh := make(chan readChunk)
	go t.readLoop(t.client, clientReadCh, 0)

	destReadCh := make(chan readChunk)

	for {
		var activeDestReadCh <-chan readChunk
		if t.dest != nil {
			activeDestReadCh = destReadCh
		}

		select {
		case <-ctx.Done():
			return

		case policy, ok := <-policyCh:
			if !ok {
				return
			}
			if t.state == stateForwarding {
				if err := t.redial(ctx, policy); err != nil {
					ui.LogStatus("warning", "reconnect after policy change failed for "+t.target+": "+err.Error())
					return
				}
				metrics.PolicyChangesTotal.Inc()
				go t.readLoop(t.dest, destReadCh, t.destGen)
			}

		case chunk := <-activeDestReadCh:
			if chunk.gen != t.destGen {
				continue // stale read from a dest we've since replaced
			}
			if chunk.err != nil {
				return
			}
			if len(chunk.data) == 0 {
				return
			}
			if _, err := t.client.Write(chunk.data); err != nil {
				ui.LogStatus("warning", "write to client failed: "+err.Error())
				return
			}
			t.downBytes += int64(len(chunk.data))
			metrics.BytesTotal.WithLabelValues("downstream").Add(float64(len(chunk.data)))

		case chunk := <-clientReadCh:
			if chunk.err != nil {
				return
			}
			if len(chunk.data) == 0 {
				return
			}
			wasInitializing := t.state == stateInitializing
			if err := t.onClientData(ctx, chunk.data); err != nil {
				ui.LogStatus("warning", "processing client data failed: "+err.Error())
				return
			}
			if wasInitializing && t.state == stateForwarding {
				go t.readLoop(t.dest, destReadCh, t.destGen)
			}
		}
	}
}

// onClientData handles one chunk read from the client: the first chunk
// initializes the tunnel (sniff target, dial, reply if CONNECT);
// subsequent chunks are simply forwarded to the current destination.
func (t *Tunnel) onClientData(ctx context.Context, data []byte) error {
	switch t.state {
	case stateInitializing:
		return t.initialize(ctx, data)
	case stateForwarding:
		t.upBytes += int64(len(data))
		metrics.BytesTotal.WithLabelValues("upstream").Add(float64(len(data)))
		_, err := t.dest.Write(data)
		return err
	}
	return nil
}

func (t *Tunnel) initialize(ctx context.Context, data []byte) error {
	requestType, target, err := hostsniffer.Sniff(data)
	if err != nil {
		return err
	}
	t.target = target

	policy := t.watcher.Current()
	if err := t.dial(ctx, policy); err != nil {
		return err
	}
	t.state = stateForwarding

	switch requestType {
	case hostsniffer.Connect:
		metrics.TunnelsTotal.WithLabelValues("CONNECT").Inc()
		_, err := t.client.Write([]byte(successConnectResponse))
		return err
	default:
		metrics.TunnelsTotal.WithLabelValues("OTHER").Inc()
		t.upBytes += int64(len(data))
		metrics.BytesTotal.WithLabelValues("upstream").Add(float64(len(data)))
		_, err := t.dest.Write(data)
		return err
	}
}

// redial tears down the current destination connection and opens a new
// one under policy, preserving t.target. Used when the subnet policy
// changes mid-flow.
func (t *Tunnel) redial(ctx context.Context, policy config.ProxyConfig) error {
	if t.dest != nil {
		t.dest.Close()
		t.dest = nil
	}
	return t.dial(ctx, policy)
}

// dial chooses direct vs. proxied based on policy and the target's
// NO_PROXY membership, then connects, incrementing the dial generation
// so stale reads from a prior connection are ignored.
func (t *Tunnel) dial(ctx context.Context, policy config.ProxyConfig) error {
	t.destGen++
	gen := t.destGen

	bypassed := false
	for _, np := range policy.NoProxy {
		if np.Matches(t.target) {
			bypassed = true
			break
		}
	}

	var conn net.Conn
	var err error
	switch {
	case bypassed || policy.Direct:
		via := "direct"
		if bypassed {
			via = "NO_PROXY"
		}
		ui.LogTunnelOpen(t.target, via)
		conn, err = dialer.DialDirect(ctx, t.target)
	default:
		upstream := policy.UpstreamAddr()
		ui.LogTunnelOpen(t.target, "via "+upstream)
		conn, err = dialer.DialViaProxy(ctx, upstream, t.target)
	}

	if err != nil {
		metrics.DialAttemptsTotal.WithLabelValues("error").Inc()
		return err
	}

	outcome := "direct"
	if !bypassed && !policy.Direct {
		outcome = "proxied"
	}
	metrics.DialAttemptsTotal.WithLabelValues(outcome).Inc()

	if gen != t.destGen {
		// A concurrent redial beat us to it; keep whichever connection
		// is now current and drop this one.
		conn.Close()
		return nil
	}
	t.dest = conn
	return nil
}

// readLoop performs blocking reads on conn and reports each chunk (or
// terminal error) on ch tagged with gen, until conn is closed.
func (t *Tunnel) readLoop(conn net.Conn, ch chan<- readChunk, gen int) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunkData := make([]byte, n)
			copy(chunkData, buf[:n])
			ch <- readChunk{data: chunkData, gen: gen}
		}
		if err != nil {
			ch <- readChunk{err: err, gen: gen}
			return
		}
	}
}
