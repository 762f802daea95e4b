package pliot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/tarm/serial"
)

// ErrListenerClosed is returned by Accept after the listener closes.
var ErrListenerClosed = errors.New("pliot: listener closed")

// FrameConn delivers whole zero-delimited frames over a byte stream.
// Reassembly up to the frame ceiling happens here; interpreting the frame
// is the dispatcher's job.
type FrameConn interface {
	// ReadFrame blocks for the next complete frame, delimiter stripped.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one already-delimited frame.
	WriteFrame(frame []byte) error
	Close() error
}

// Listener hands out framed connections as peers arrive.
type Listener interface {
	Accept() (FrameConn, error)
	Close() error
}

// streamConn frames an arbitrary byte stream.
type streamConn struct {
	rw io.ReadWriteCloser
	br *bufio.Reader
}

// NewStreamConn wraps a byte stream in frame delimiting.
func NewStreamConn(rw io.ReadWriteCloser) FrameConn {
	return &streamConn{rw: rw, br: bufio.NewReader(rw)}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	frame := make([]byte, 0, 64)
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0 {
			if len(frame) == 0 {
				continue // stray delimiter between frames
			}
			return frame, nil
		}
		if len(frame) >= MaxFrameBytes {
			return nil, fmt.Errorf("pliot: frame exceeds %d bytes", MaxFrameBytes)
		}
		frame = append(frame, b)
	}
}

func (c *streamConn) WriteFrame(frame []byte) error {
	_, err := c.rw.Write(frame)
	return err
}

func (c *streamConn) Close() error { return c.rw.Close() }

type tcpListener struct {
	ln net.Listener
}

// ListenTCP serves framed connections on a TCP address.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pliot: listen %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept() (FrameConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamConn(conn), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

// DialTCP connects to a framed TCP endpoint; clients and tests use it.
func DialTCP(addr string) (FrameConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pliot: dial %s: %w", addr, err)
	}
	return NewStreamConn(conn), nil
}

// OpenSerial opens a framed serial connection.
func OpenSerial(port string, baud int) (FrameConn, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("pliot: open %s: %w", port, err)
	}
	return NewStreamConn(p), nil
}

// serialListener adapts a single serial port to the Listener shape. The
// open port is handed out once; after that session closes it, the next
// Accept reopens the port, so a dropped session re-waits for a working
// port the way a TCP accept loop re-waits for a peer.
type serialListener struct {
	open func() (FrameConn, error)

	mu     sync.Mutex
	next   FrameConn
	closed bool
}

// ListenSerial wraps a serial port as a one-session-at-a-time listener.
// The port is opened immediately so configuration errors surface here.
func ListenSerial(port string, baud int) (Listener, error) {
	conn, err := OpenSerial(port, baud)
	if err != nil {
		return nil, err
	}
	return &serialListener{
		open: func() (FrameConn, error) { return OpenSerial(port, baud) },
		next: conn,
	}, nil
}

func (l *serialListener) Accept() (FrameConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrListenerClosed
	}
	if conn := l.next; conn != nil {
		l.next = nil
		return conn, nil
	}
	return l.open()
}

func (l *serialListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if conn := l.next; conn != nil {
		l.next = nil
		return conn.Close()
	}
	return nil
}
