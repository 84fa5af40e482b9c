// Package netpolicy watches the host's IPv4 interfaces and republishes
// the ProxyConfig the current subnet selects whenever it changes. There
// is no push-based interface-change notification available in this
// module's dependency stack, so it polls net.Interfaces() on a ticker —
// see DESIGN.md for why.
package netpolicy

import (
	"net"
	"sync"
	"time"

	"subnetproxy/internal/config"
	"subnetproxy/internal/ui"
)

// DefaultPollInterval keeps the watcher responsive to a roaming host
// without burning CPU on a tight loop.
const DefaultPollInterval = 2 * time.Second

// Watcher holds the current policy selection and fans it out to
// subscribers whenever the selection changes. The zero value is not
// usable; construct with NewWatcher.
type Watcher struct {
	cfg          *config.Config
	pollInterval time.Duration

	mu      sync.Mutex
	current config.ProxyConfig

	subMu sync.Mutex
	subs  []chan config.ProxyConfig

	done chan struct{}
}

// NewWatcher builds a Watcher against cfg, performing one synchronous
// selection immediately so Current() is meaningful before Run starts.
func NewWatcher(cfg *config.Config, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	w := &Watcher{
		cfg:          cfg,
		pollInterval: pollInterval,
		done:         make(chan struct{}),
	}
	w.current = w.selectPolicy()
	return w
}

// Current returns the most recently selected policy.
func (w *Watcher) Current() config.ProxyConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe returns a channel that immediately receives the current
// policy, then every subsequent distinct value. The channel is
// buffered (capacity 1) and drained-and-refilled, so a slow subscriber
// sees only the latest value, never a backlog — the same semantics as
// a watch channel, just implemented without one.
func (w *Watcher) Subscribe() <-chan config.ProxyConfig {
	ch := make(chan config.ProxyConfig, 1)
	ch <- w.Current()

	w.subMu.Lock()
	w.subs = append(w.subs, ch)
	w.subMu.Unlock()

	return ch
}

// Run polls net.Interfaces() on pollInterval until Stop is called. Call
// it in its own goroutine.
func (w *Watcher) Run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.done:
			return
		}
	}
}

// Stop halts Run. Safe to call once.
func (w *Watcher) Stop() {
	close(w.done)
}

func (w *Watcher) poll() {
	next := w.selectPolicy()

	w.mu.Lock()
	changed := !next.Equal(w.current)
	if changed {
		w.current = next
	}
	w.mu.Unlock()

	if changed {
		ui.LogPolicyChange(describePolicy(next))
		w.publish(next)
	}
}

func (w *Watcher) publish(policy config.ProxyConfig) {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- policy
	}
}

// describePolicy renders the policy a re-poll just selected, for the
// publish-time status line.
func describePolicy(policy config.ProxyConfig) string {
	if policy.Direct {
		return "network policy changed: now direct"
	}
	return "network policy changed: now via " + policy.UpstreamAddr()
}

// selectPolicy reads the host's current IPv4 addresses across all
// interfaces and asks the config to pick a policy for them.
func (w *Watcher) selectPolicy() config.ProxyConfig {
	addrs := localIPv4Addrs()
	return w.cfg.SelectPolicy(addrs)
}

// localIPv4Addrs enumerates every IPv4 address assigned to any host
// interface, skipping loopback and interfaces that are down.
func localIPv4Addrs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var addrs []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifaceAddrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil {
				addrs = append(addrs, ip4)
			}
		}
	}
	return addrs
}
