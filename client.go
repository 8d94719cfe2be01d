package libpthread

import (
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"
)

// Client is a connection to a semd broker. Semaphores opened through it
// live in the broker's namespace, so unrelated processes on the same host
// share them by name. One client carries any number of handles and any
// number of concurrent operations; blocking waits park in the broker
// without holding up other traffic on the connection.
type Client struct {
	t *transport

	mu      sync.Mutex
	pending map[uint64]chan response
	nextID  uint64
	err     error
}

// Dial connects to the broker serving the unix socket at path and performs
// the protocol handshake.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	c := &Client{
		t:       newTransport(conn),
		pending: make(map[uint64]chan response),
	}
	// The hello exchange happens before the reader loop starts, so this
	// is the only place the dialing goroutine reads the connection.
	if err := c.t.send(request{ID: 1, Op: opHello, Value: protocolVersion}); err != nil {
		conn.Close()
		return nil, err
	}
	var resp response
	if err := c.t.receive(&resp); err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Status != stOK {
		conn.Close()
		return nil, fmt.Errorf("broker refused connection: %s", resp.Err)
	}
	c.nextID = 1
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. The broker drops every handle opened
// through this client; operations still in flight fail, and goroutines
// parked in remote waits wake with EPERM.
func (c *Client) Close() error {
	c.fail(net.ErrClosed)
	return c.t.close()
}

// readLoop routes responses to the goroutines that sent the matching
// requests. It owns the receiving side of the connection.
func (c *Client) readLoop() {
	for {
		var resp response
		if err := c.t.receive(&resp); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// fail marks the connection dead and wakes everyone waiting on a response.
// The first error sticks.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) roundTrip(req request) (response, error) {
	ch := make(chan response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return response{}, err
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.t.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return response{}, err
	}
	resp, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = net.ErrClosed
		}
		return response{}, err
	}
	return resp, nil
}

func statusError(resp response) error {
	if resp.Err != "" {
		return fmt.Errorf("broker: %s", resp.Err)
	}
	return fmt.Errorf("broker: status %d", resp.Status)
}

// OpenSemaphore opens a named semaphore in the broker's namespace. The
// contract is that of the package-level OpenSemaphore; only the namespace
// differs. A connection failure while opening reports EPERM, or ENOSPC on
// the creating path, matching what a failing native open would produce.
func (c *Client) OpenSemaphore(name string, flag int, perm os.FileMode, value uint) (*Semaphore, error) {
	return openSemaphore(c, name, flag, value)
}

// UnlinkSemaphore mirrors the package-level UnlinkSemaphore for the broker
// namespace. Like it, the call succeeds without doing anything: broker
// names vanish with their last handle, so there is nothing to remove.
func (c *Client) UnlinkSemaphore(name string) error {
	return nil
}

// Names lists the live named semaphores in the broker's namespace.
func (c *Client) Names() ([]SemInfo, error) {
	resp, err := c.roundTrip(request{Op: opNames})
	if err != nil {
		return nil, err
	}
	if resp.Status != stOK {
		return nil, statusError(resp)
	}
	return resp.Sems, nil
}

// Stat reports one named semaphore, failing with ENOENT when no such name
// is live.
func (c *Client) Stat(name string) (SemInfo, error) {
	if err := checkSemName(name); err != nil {
		return SemInfo{}, err
	}
	resp, err := c.roundTrip(request{Op: opStat, Name: name})
	if err != nil {
		return SemInfo{}, err
	}
	switch resp.Status {
	case stOK:
		if len(resp.Sems) != 1 {
			return SemInfo{}, fmt.Errorf("broker: malformed stat response")
		}
		return resp.Sems[0], nil
	case stNotFound:
		return SemInfo{}, ENOENT
	}
	return SemInfo{}, statusError(resp)
}

// open and create satisfy namespace, so the shared adapter can drive a
// broker connection exactly like the in-process registry.

func (c *Client) open(name string) (sema, error) {
	resp, err := c.roundTrip(request{Op: opOpen, Name: name})
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case stOK:
		return &remoteSema{c: c, handle: resp.Handle}, nil
	case stNotFound:
		return nil, fs.ErrNotExist
	}
	return nil, statusError(resp)
}

func (c *Client) create(name string, value uint, excl bool) (sema, error) {
	resp, err := c.roundTrip(request{Op: opCreate, Name: name, Value: uint32(value), Excl: excl})
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case stOK:
		return &remoteSema{c: c, handle: resp.Handle}, nil
	case stExists:
		return nil, fs.ErrExist
	case stLimit:
		return nil, errRegistryFull
	}
	return nil, statusError(resp)
}

// remoteSema is one broker-side handle. Timeouts run on the server; a dead
// connection surfaces as an abnormal wait outcome, the same way a dying
// native object would.
type remoteSema struct {
	c      *Client
	handle uint64
}

func (r *remoteSema) post() error {
	resp, err := r.c.roundTrip(request{Op: opPost, Handle: r.handle})
	if err != nil {
		return err
	}
	switch resp.Status {
	case stOK:
		return nil
	case stOverflow:
		return errOverflow
	case stClosed:
		return errClosed
	}
	return statusError(resp)
}

func (r *remoteSema) wait(timeout time.Duration, _ <-chan struct{}) waitStatus {
	resp, err := r.c.roundTrip(request{Op: opWait, Handle: r.handle, TimeoutMS: timeoutMS(timeout)})
	if err != nil {
		return waitAbnormal
	}
	switch resp.Status {
	case stOK:
		return waitSignaled
	case stTimedOut:
		return waitTimedOut
	}
	return waitAbnormal
}

func (r *remoteSema) close() error {
	resp, err := r.c.roundTrip(request{Op: opClose, Handle: r.handle})
	if err != nil {
		return err
	}
	if resp.Status != stOK {
		return statusError(resp)
	}
	return nil
}

// timeoutMS converts a wait timeout to wire form, rounding up so a short
// positive timeout never degrades to a poll.
func timeoutMS(timeout time.Duration) int64 {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	return int64((timeout + time.Millisecond - 1) / time.Millisecond)
}
