package server

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// ConsolePID is the reserved id of the administrative console child
const ConsolePID uint32 = 0

var ErrTooManyConnections = errors.New("too many connections from this address")

// exitNotice tells the reaper that a child has finished
type exitNotice struct {
	pid uint32
}

// connRegistry tracks the live connection children of the supervisor
type connRegistry struct {
	conns    map[uint32]*Connection
	perIP    map[string]int
	maxPerIP int
	nextPID  atomic.Uint32
	mu       sync.RWMutex
}

func newConnRegistry(maxPerIP int) *connRegistry {
	return &connRegistry{
		conns:    make(map[uint32]*Connection),
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// allocPID returns the next connection id, never ConsolePID
func (r *connRegistry) allocPID() uint32 {
	for {
		if pid := r.nextPID.Add(1); pid != ConsolePID {
			return pid
		}
	}
}

// add registers a connection, enforcing the per-address limit
func (r *connRegistry) add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPerIP > 0 && r.perIP[c.remoteIP] >= r.maxPerIP {
		return ErrTooManyConnections
	}
	r.conns[c.pid] = c
	r.perIP[c.remoteIP]++
	return nil
}

// remove forgets a connection and reports whether it was known
func (r *connRegistry) remove(pid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[pid]
	if !ok {
		return false
	}
	delete(r.conns, pid)
	if r.perIP[c.remoteIP]--; r.perIP[c.remoteIP] <= 0 {
		delete(r.perIP, c.remoteIP)
	}
	return true
}

// get returns the live connection with pid
func (r *connRegistry) get(pid uint32) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[pid]
	return c, ok
}

// all returns the live connections ordered by pid
func (r *connRegistry) all() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].pid < conns[j].pid })
	return conns
}

// count returns the number of live connections
func (r *connRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
