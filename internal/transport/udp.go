// Package transport implements the non-blocking UDP/TCP multiplexer
// described in spec.md §4.3: a single unconnected UDP socket, a TCP
// connection state machine with 2-byte-length framing, and server
// rotation/failover across up to 5 configured nameservers.
package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// MaxServers is the hard cap on configured nameservers (spec.md §6).
const MaxServers = 5

// Datagram is one UDP packet received from a nameserver.
type Datagram struct {
	From net.IP
	Data []byte
}

// UDP is the single unconnected, non-blocking UDP/53 socket every query
// shares. recvfrom is drained in a loop per readable event until EAGAIN,
// per spec.md §4.3.
type UDP struct {
	fd int
}

// NewUDP creates and binds an ephemeral non-blocking UDP socket.
func NewUDP() (*UDP, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	sa := &unix.SockaddrInet4{} // INADDR_ANY, ephemeral port
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind: %w", err)
	}
	return &UDP{fd: fd}, nil
}

// FD returns the raw file descriptor for the caller's readiness set.
func (u *UDP) FD() int { return u.fd }

// Close closes the UDP socket.
func (u *UDP) Close() error {
	if u.fd < 0 {
		return nil
	}
	err := unix.Close(u.fd)
	u.fd = -1
	return err
}

// SendError classifies a UDP send failure per spec.md §4.2 "UDP send".
type SendError int

const (
	SendOK SendError = iota
	SendRetryable          // EWOULDBLOCK/ENOBUFS/EAGAIN: leave query to retry at next deadline
	SendTooBig             // EMSGSIZE: bump to TCP
	SendServerFailed       // any other errno: mark this server failed, advance
)

// SendTo sends payload to dst:53. dst must be an IPv4 address.
func (u *UDP) SendTo(dst net.IP, payload []byte) SendError {
	v4 := dst.To4()
	if v4 == nil {
		return SendServerFailed
	}
	sa := &unix.SockaddrInet4{Port: 53}
	copy(sa.Addr[:], v4)
	_, err := unix.Sendto(u.fd, payload, 0, sa)
	if err == nil {
		return SendOK
	}
	switch err {
	case unix.EAGAIN, unix.ENOBUFS:
		return SendRetryable
	case unix.EMSGSIZE:
		return SendTooBig
	default:
		return SendServerFailed
	}
}

// DrainReadable reads every pending datagram until EAGAIN, per spec.md
// §4.3. Datagrams not from an IPv4 address are silently skipped by the
// caller (invalid source per spec.md §4.2 "UDP receive").
func (u *UDP) DrainReadable() ([]Datagram, error) {
	var out []Datagram
	buf := make([]byte, 65535)
	for {
		n, from, err := unix.Recvfrom(u.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN {
				return out, nil
			}
			return out, fmt.Errorf("transport: recvfrom: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		var ip net.IP
		if sa4, ok := from.(*unix.SockaddrInet4); ok {
			ip = net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
		}
		out = append(out, Datagram{From: ip, Data: data})
	}
}
