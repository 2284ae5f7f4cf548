package transport

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// State is the TCP connection state, per the state table in spec.md §4.3.
type State int

const (
	Disconnected State = iota
	Connecting
	OK
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case OK:
		return "ok"
	default:
		return "unknown"
	}
}

// TCP is the single rotating TCP/53 connection used for virtual-circuit
// fallback. Only one server is ever connected at a time; on failure it
// rotates to the next configured server (spec.md §4.3 "Server selection").
type TCP struct {
	fd          int
	state       State
	sendBuf     []byte // queued outbound bytes, 2-byte length prefix already applied
	recvBuf     []byte // accumulated inbound bytes awaiting full frames
	serverIndex int
	numServers  int
}

// NewTCP creates an idle (disconnected) TCP transport rotating across
// numServers nameservers.
func NewTCP(numServers int) *TCP {
	return &TCP{fd: -1, state: Disconnected, numServers: numServers}
}

// State returns the current connection state.
func (t *TCP) State() State { return t.state }

// CurrentServer returns the index of the server this connection targets
// (or is targeting while connecting).
func (t *TCP) CurrentServer() int { return t.serverIndex }

// FD returns the raw descriptor, or -1 when disconnected (the invariant
// tcpstate=disconnected ⇒ no socket exists, per spec.md §3).
func (t *TCP) FD() int {
	if t.state == Disconnected {
		return -1
	}
	return t.fd
}

// WantWrite reports whether the caller's readiness set should watch for
// writability: while connecting (to detect connect() completion) or while
// ok with queued output (spec.md §4.3's "ok" row).
func (t *TCP) WantWrite() bool {
	switch t.state {
	case Connecting:
		return true
	case OK:
		return len(t.sendBuf) > 0
	default:
		return false
	}
}

// TryConnect opens a new non-blocking socket to the server at index serv
// and begins connect(), entering the Connecting state. The caller must
// already know no connection is in progress (state == Disconnected).
func (t *TCP) TryConnect(serv int, addr net.IP) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("transport: tcp socket: %w", err)
	}
	v4 := addr.To4()
	if v4 == nil {
		unix.Close(fd)
		return fmt.Errorf("transport: tcp connect: not an IPv4 address: %v", addr)
	}
	sa := &unix.SockaddrInet4{Port: 53}
	copy(sa.Addr[:], v4)
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EWOULDBLOCK {
		unix.Close(fd)
		return fmt.Errorf("transport: tcp connect: %w", err)
	}
	t.fd = fd
	t.state = Connecting
	t.serverIndex = serv
	t.recvBuf = t.recvBuf[:0]
	t.sendBuf = t.sendBuf[:0]
	return nil
}

// HandleWritable is called when the fd becomes writable. In Connecting
// state this tests whether connect() completed (via SO_ERROR); in OK state
// it flushes any queued send buffer. Returns broken=true if the connection
// must be torn down (connect failed, or a write error occurred).
func (t *TCP) HandleWritable() (broken bool, brokenReason string) {
	switch t.state {
	case Connecting:
		errno, err := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return true, fmt.Sprintf("getsockopt(SO_ERROR): %v", err)
		}
		if errno != 0 {
			return true, fmt.Sprintf("connect failed: errno %d", errno)
		}
		t.state = OK
		return false, ""
	case OK:
		if len(t.sendBuf) == 0 {
			return false, ""
		}
		n, err := unix.Write(t.fd, t.sendBuf)
		if err != nil {
			if err == unix.EAGAIN {
				return false, ""
			}
			return true, fmt.Sprintf("write: %v", err)
		}
		t.sendBuf = t.sendBuf[n:]
		return false, ""
	default:
		return false, ""
	}
}

// HandleExceptional handles POLLPRI/select-exception notice. Per spec.md
// §4.4, urgent data on a DNS TCP stream indicates protocol abuse: in state
// OK the stream is treated as broken; in any other state the notice is
// ignored.
func (t *TCP) HandleExceptional() (broken bool, brokenReason string) {
	if t.state != OK {
		return false, ""
	}
	return true, "exceptional condition (POLLPRI/select-exception) on TCP stream"
}

// Enqueue frames msg with a 2-byte big-endian length prefix and appends it
// to the send buffer, per spec.md §6 "framed as 2-byte length + message".
func (t *TCP) Enqueue(msg []byte) error {
	if len(msg) > 0xffff {
		return fmt.Errorf("transport: message too large for TCP framing: %d bytes", len(msg))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	t.sendBuf = append(t.sendBuf, lenBuf[:]...)
	t.sendBuf = append(t.sendBuf, msg...)
	return nil
}

// DrainReadable reads available bytes into recvBuf and extracts every
// complete framed message. Returns broken=true on EOF or read error.
func (t *TCP) DrainReadable() (messages [][]byte, broken bool, brokenReason string) {
	buf := make([]byte, 65535)
	for {
		n, err := unix.Read(t.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			return messages, true, fmt.Sprintf("read: %v", err)
		}
		if n == 0 {
			return messages, true, "EOF"
		}
		t.recvBuf = append(t.recvBuf, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	messages = extractFrames(&t.recvBuf)
	return messages, false, ""
}

// extractFrames pulls every complete 2-byte-length-prefixed message out of
// *buf, leaving any trailing partial frame in place.
func extractFrames(buf *[]byte) (messages [][]byte) {
	b := *buf
	for {
		if len(b) < 2 {
			break
		}
		mlen := int(binary.BigEndian.Uint16(b[:2]))
		if len(b) < 2+mlen {
			break
		}
		msg := make([]byte, mlen)
		copy(msg, b[2:2+mlen])
		messages = append(messages, msg)
		b = b[2+mlen:]
	}
	*buf = b
	return messages
}

// Break tears down the connection after a failure, marks serv as failed for
// every in-flight query (the caller does that bookkeeping; Break just does
// the socket-level teardown and rotation) and advances the rotating server
// pointer, per spec.md §4.3 "On broken".
func (t *TCP) Break() {
	if t.fd >= 0 {
		unix.Close(t.fd)
	}
	t.fd = -1
	t.state = Disconnected
	t.recvBuf = t.recvBuf[:0]
	t.sendBuf = t.sendBuf[:0]
	if t.numServers > 0 {
		t.serverIndex = (t.serverIndex + 1) % t.numServers
	}
}

// Close tears down the connection unconditionally (resolver Finish).
func (t *TCP) Close() {
	if t.fd >= 0 {
		unix.Close(t.fd)
		t.fd = -1
	}
	t.state = Disconnected
}

