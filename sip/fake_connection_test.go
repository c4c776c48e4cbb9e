package sip

import (
	"net"
	"sync"
)

// fakeConnection is an in-memory Connection used by transaction tests in
// place of a real socket. It records every written message and never
// actually blocks on I/O.
type fakeConnection struct {
	mu      sync.Mutex
	laddr   net.Addr
	written []Message
	ref     int
	closed  bool
}

func newFakeConnection(laddr string) *fakeConnection {
	host, port, _ := ParseAddr(laddr)
	return &fakeConnection{
		laddr: &net.UDPAddr{IP: net.ParseIP(host), Port: port},
		ref:   1,
	}
}

func (c *fakeConnection) LocalAddr() net.Addr {
	return c.laddr
}

func (c *fakeConnection) WriteMsg(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, msg)
	return nil
}

func (c *fakeConnection) Ref(i int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref += i
	return c.ref
}

func (c *fakeConnection) TryClose() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref--
	if c.ref <= 0 {
		c.closed = true
	}
	return c.ref, nil
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) Written() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.written...)
}
