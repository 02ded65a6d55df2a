// Package wayland is a small Wayland client that keeps the connection
// socket in the caller's hands: events are read without blocking so the
// descriptor can share a poll set with other sources.
package wayland

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrDisconnected is returned once the compositor has closed the connection
	ErrDisconnected = errors.New("wayland connection lost")

	// ErrFlushTimeout is returned when the compositor stops reading requests
	ErrFlushTimeout = errors.New("compositor is not reading requests")
)

const (
	displayID = 1

	// wl_display requests
	displaySync        = 0
	displayGetRegistry = 1

	// wl_display events
	displayEventError    = 0
	displayEventDeleteID = 1
)

const (
	// pollSlice bounds each blocking poll so cancellation is noticed
	pollSlice = 100 * time.Millisecond

	// DefaultFlushTimeout bounds how long Flush waits for a full socket to drain
	DefaultFlushTimeout = 2 * time.Second
)

// ProtocolError is a fatal error reported by the compositor
type ProtocolError struct {
	ObjectID uint32
	Code     uint32
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wayland protocol error on object %d (code %d): %s", e.ObjectID, e.Code, e.Message)
}

// Proxy is anything that names a protocol object
type Proxy interface {
	ID() uint32
}

// Object is a client-side protocol object that receives events
type Object interface {
	Proxy
	Dispatch(e *Event)
	attach(c *Client, id uint32)
}

// BaseProxy provides the bookkeeping every protocol object needs. Embed it.
type BaseProxy struct {
	client *Client
	id     uint32
}

// ID returns the object id, zero before registration
func (p *BaseProxy) ID() uint32 {
	return p.id
}

// Client returns the connection the object lives on
func (p *BaseProxy) Client() *Client {
	return p.client
}

func (p *BaseProxy) attach(c *Client, id uint32) {
	p.client = c
	p.id = id
}

// Client is a connection to a Wayland compositor
type Client struct {
	fd       int
	nextID   uint32
	objects  map[uint32]Object
	out      []byte
	in       []byte
	rbuf     []byte
	registry *Registry
	closed   bool

	flushTimeout time.Duration
}

// Connect opens a connection to the compositor and fetches the initial
// set of globals. An empty name selects $WAYLAND_DISPLAY.
func Connect(ctx context.Context, name string) (*Client, error) {
	fd, err := dial(name)
	if err != nil {
		return nil, err
	}

	c := newClient(fd)
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(fd int) *Client {
	return &Client{
		fd:      fd,
		nextID:  displayID + 1,
		objects: make(map[uint32]Object),
		rbuf:    make([]byte, 4096),

		flushTimeout: DefaultFlushTimeout,
	}
}

func (c *Client) init(ctx context.Context) error {
	c.registry = &Registry{globals: make(map[uint32]Global)}
	c.Register(c.registry)
	if err := c.SendRequest(ObjectID(displayID), displayGetRegistry, c.registry); err != nil {
		return err
	}
	if err := c.Roundtrip(ctx); err != nil {
		return fmt.Errorf("initial roundtrip failed: %w", err)
	}
	return nil
}

func dial(name string) (int, error) {
	if s := os.Getenv("WAYLAND_SOCKET"); s != "" {
		os.Unsetenv("WAYLAND_SOCKET")
		fd, err := strconv.Atoi(s)
		if err != nil {
			return -1, fmt.Errorf("invalid WAYLAND_SOCKET %q: %w", s, err)
		}
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			return -1, fmt.Errorf("failed to use WAYLAND_SOCKET: %w", err)
		}
		return fd, nil
	}

	path, err := socketPath(name)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set non-blocking mode: %w", err)
	}
	return fd, nil
}

func socketPath(name string) (string, error) {
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		name = "wayland-0"
	}
	if filepath.IsAbs(name) {
		return name, nil
	}

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, name), nil
}

// Fd returns the connection socket for use in a poll set
func (c *Client) Fd() int {
	return c.fd
}

// Registry returns the global registry
func (c *Client) Registry() *Registry {
	return c.registry
}

// Register allocates an id for obj and routes its events to it
func (c *Client) Register(obj Object) uint32 {
	id := c.nextID
	c.nextID++
	obj.attach(c, id)
	c.objects[id] = obj
	return id
}

// Unregister stops routing events to obj
func (c *Client) Unregister(obj Object) {
	delete(c.objects, obj.ID())
}

// SendRequest queues a request. Nothing is written until Flush.
func (c *Client) SendRequest(sender Proxy, opcode uint16, args ...any) error {
	if c.closed {
		return ErrDisconnected
	}
	out, err := appendMessage(c.out, sender.ID(), opcode, args...)
	if err != nil {
		return fmt.Errorf("failed to encode request %d on object %d: %w", opcode, sender.ID(), err)
	}
	c.out = out
	return nil
}

// Flush writes all queued requests, waiting for the socket to drain when
// its buffer is full. The wait is bounded by the flush timeout; past it
// Flush fails with ErrFlushTimeout and keeps the unsent tail queued.
func (c *Client) Flush() error {
	if c.closed {
		return ErrDisconnected
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	written := 0
	for written < len(c.out) {
		n, err := unix.SendmsgN(c.fd, c.out[written:], nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			written += n
		case errors.Is(err, unix.EINTR):
		case isWouldBlock(err):
			if ctx == nil {
				ctx, cancel = context.WithTimeout(context.Background(), c.flushTimeout)
			}
			if err := c.poll(ctx, unix.POLLOUT); err != nil {
				c.out = c.out[written:]
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("%w after %s", ErrFlushTimeout, c.flushTimeout)
				}
				return err
			}
		case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		default:
			return fmt.Errorf("failed to write to display: %w", err)
		}
	}
	c.out = c.out[:0]
	return nil
}

// Dispatch reads whatever the compositor has sent without blocking and
// delivers every complete event.
func (c *Client) Dispatch() error {
	if c.closed {
		return ErrDisconnected
	}
	readErr := c.readAvailable()
	if err := c.dispatchPending(); err != nil {
		return err
	}
	return readErr
}

// Roundtrip blocks until the compositor has processed every request sent
// so far and all resulting events were dispatched.
func (c *Client) Roundtrip(ctx context.Context) error {
	cb := &callback{}
	c.Register(cb)
	if err := c.SendRequest(ObjectID(displayID), displaySync, cb); err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}

	for {
		if err := c.dispatchPending(); err != nil {
			return err
		}
		if cb.done {
			return nil
		}
		if err := c.poll(ctx, unix.POLLIN); err != nil {
			c.Unregister(cb)
			return err
		}
		if err := c.Dispatch(); err != nil {
			return err
		}
		if cb.done {
			return nil
		}
	}
}

// Close closes the connection. Further requests fail with ErrDisconnected.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

func (c *Client) readAvailable() error {
	for {
		n, err := unix.Read(c.fd, c.rbuf)
		switch {
		case err == nil && n == 0:
			return ErrDisconnected
		case err == nil:
			c.in = append(c.in, c.rbuf[:n]...)
		case errors.Is(err, unix.EINTR):
		case isWouldBlock(err):
			return nil
		case errors.Is(err, unix.ECONNRESET):
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		default:
			return fmt.Errorf("failed to read from display: %w", err)
		}
	}
}

func (c *Client) dispatchPending() error {
	off := 0
	defer func() {
		c.in = append(c.in[:0], c.in[off:]...)
	}()

	for len(c.in)-off >= headerSize {
		sender, opcode, size := decodeHeader(c.in[off:])
		if size < headerSize || size%4 != 0 {
			return fmt.Errorf("malformed message on object %d: size %d", sender, size)
		}
		if len(c.in)-off < size {
			break
		}

		ev := &Event{Sender: sender, Opcode: opcode, data: c.in[off+headerSize : off+size]}
		off += size
		if err := c.dispatchEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) dispatchEvent(ev *Event) error {
	if ev.Sender == displayID {
		switch ev.Opcode {
		case displayEventError:
			perr := &ProtocolError{ObjectID: ev.Uint32(), Code: ev.Uint32(), Message: ev.Str()}
			if err := ev.Err(); err != nil {
				return err
			}
			return perr
		case displayEventDeleteID:
			delete(c.objects, ev.Uint32())
		}
		return ev.Err()
	}

	obj, ok := c.objects[ev.Sender]
	if !ok {
		// destroyed locally, the compositor has not caught up yet
		return nil
	}
	obj.Dispatch(ev)
	return ev.Err()
}

func (c *Client) poll(ctx context.Context, events int16) error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, int(pollSlice/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to poll display: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// callback implements wl_callback for roundtrips
type callback struct {
	BaseProxy
	done bool
}

func (cb *callback) Dispatch(e *Event) {
	if e.Opcode == 0 {
		e.Uint32() // serial
		cb.done = true
	}
}
