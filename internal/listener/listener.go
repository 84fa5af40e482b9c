// Package listener binds the proxy's loopback socket and spawns a
// Tunnel per accepted connection, sharing one subnet policy watcher
// across every tunnel it creates.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"

	"subnetproxy/internal/netpolicy"
	"subnetproxy/internal/tunnel"
	"subnetproxy/internal/ui"
)

// Listener accepts client connections on a loopback address and hands
// each one to a new Tunnel.
type Listener struct {
	addr    string
	watcher *netpolicy.Watcher

	ln net.Listener
	wg sync.WaitGroup
}

// New builds a Listener bound to port on loopback only — this proxy is
// never meant to be reachable from another host.
func New(port uint32, watcher *netpolicy.Watcher) *Listener {
	return &Listener{
		addr:    fmt.Sprintf("127.0.0.1:%d", port),
		watcher: watcher,
	}
}

// Run binds the listening socket and accepts connections until ctx is
// canceled. It blocks until the accept loop exits and every in-flight
// tunnel has returned.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	l.ln = ln
	ui.LogStatus("info", "Proxy listening on "+l.addr)

	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				ui.LogStatus("warning", "accept error: "+err.Error())
				continue
			}
		}

		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			tunnel.New(c, l.watcher).Run(ctx)
		}(conn)
	}
}
