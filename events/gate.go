package events

import "sync"

// reconnectGate serializes reconnection attempts. The first caller becomes
// the leader; followers get a channel that closes when the attempt ends so
// they can wait (bounded) instead of dialing concurrently.
type reconnectGate struct {
	mu     sync.Mutex
	active bool
	done   chan struct{}
}

func newReconnectGate() *reconnectGate {
	return &reconnectGate{}
}

// begin returns leader=true when this caller owns the attempt. Followers
// receive the in-progress attempt's completion channel.
func (g *reconnectGate) begin() (leader bool, wait <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active {
		return false, g.done
	}
	g.active = true
	g.done = make(chan struct{})
	return true, g.done
}

// end completes the attempt and releases followers.
func (g *reconnectGate) end() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return
	}
	g.active = false
	close(g.done)
}
