package stratum

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	minerErrors "github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
)

// DefaultMaxLineSize is the longest line accepted from the pool.
const DefaultMaxLineSize = 16 * 1024

// ConnConfig tunes a Conn.
type ConnConfig struct {
	// MaxLineSize bounds one inbound frame; longer lines are discarded.
	MaxLineSize int
	// ReadTimeout, if positive, fails the read loop after that much silence.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// OutboundBuffer is the capacity of the send queue.
	OutboundBuffer int
}

// DefaultConnConfig returns the transport defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxLineSize:    DefaultMaxLineSize,
		WriteTimeout:   10 * time.Second,
		OutboundBuffer: 64,
	}
}

// LineHandler receives one inbound frame without its terminator. The slice
// is owned by the handler.
type LineHandler func(line []byte)

// Conn is a newline-framed connection to a pool. All writes go through a
// single goroutine so frames from concurrent senders never interleave.
type Conn struct {
	conn   net.Conn
	config ConnConfig
	logger *log.Logger

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	closeErr error
}

// Dial connects to host:port and starts the writer.
func Dial(ctx context.Context, host string, port int, timeout time.Duration, config ConnConfig, logger *log.Logger) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}

	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, minerErrors.Connection("dial", err).WithContext("addr", addr)
	}
	return NewConn(nc, config, logger), nil
}

// NewConn wraps an established connection and starts the writer.
func NewConn(nc net.Conn, config ConnConfig, logger *log.Logger) *Conn {
	defaults := DefaultConnConfig()
	if config.MaxLineSize <= 0 {
		config.MaxLineSize = defaults.MaxLineSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.OutboundBuffer <= 0 {
		config.OutboundBuffer = defaults.OutboundBuffer
	}

	c := &Conn{
		conn:     nc,
		config:   config,
		logger:   logger.WithComponent("transport").WithFields("remote_addr", nc.RemoteAddr().String()),
		outbound: make(chan []byte, config.OutboundBuffer),
		done:     make(chan struct{}),
	}
	c.logger.LogConnection("connected", nc.RemoteAddr().String())

	go c.writeLoop()
	return c
}

// RemoteAddr returns the pool address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that closed the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Send queues one frame for writing. It blocks while the queue is full.
func (c *Conn) Send(ctx context.Context, line []byte) error {
	select {
	case <-c.done:
		return c.closedError()
	default:
	}

	select {
	case c.outbound <- line:
		return nil
	case <-c.done:
		return c.closedError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) closedError() error {
	if err := c.Err(); err != nil {
		return err
	}
	return minerErrors.Connection("send", nil).WithContext("reason", "connection closed")
}

// writeLoop owns every write to the socket.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.fail(minerErrors.Connection("write", err))
				return
			}

			frame := make([]byte, len(data)+1)
			copy(frame, data)
			frame[len(data)] = '\n'

			if _, err := c.conn.Write(frame); err != nil {
				c.fail(minerErrors.Connection("write", err))
				return
			}

			c.logger.LogStratumMessage("sent", string(data))
		}
	}
}

// ReadLoop reads frames until the connection fails or ctx is cancelled.
// Oversized lines are dropped with a warning. It returns nil after Close,
// ctx.Err() on cancellation, and a connection error otherwise.
func (c *Conn) ReadLoop(ctx context.Context, handler LineHandler) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	// room for the terminator and an optional carriage return
	reader := bufio.NewReaderSize(c.conn, c.config.MaxLineSize+2)

	for {
		if c.config.ReadTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
				return c.readFailed(ctx, err)
			}
		}

		line, err := reader.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			discarded := len(line)
			for err == bufio.ErrBufferFull {
				line, err = reader.ReadSlice('\n')
				discarded += len(line)
			}
			if err != nil {
				return c.readFailed(ctx, err)
			}
			c.logger.Warn("dropping oversized line",
				"bytes", discarded,
				"max_line_size", c.config.MaxLineSize,
			)
			continue
		}
		if err != nil {
			return c.readFailed(ctx, err)
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}

		c.logger.LogStratumMessage("received", string(line))
		handler(bytes.Clone(line))
	}
}

func (c *Conn) readFailed(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	select {
	case <-c.done:
		if closeErr := c.Err(); closeErr != nil {
			return closeErr
		}
		return nil
	default:
	}

	connErr := minerErrors.Connection("read", err)
	c.fail(connErr)
	return connErr
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.mu.Unlock()
	c.logger.WithError(err).Error("connection failed")
	c.Close()
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.logger.LogConnection("disconnected", c.RemoteAddr())
	})
	return err
}
