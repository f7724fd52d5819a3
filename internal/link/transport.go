// Package link carries fix frames to the platform controller and reads the
// controller's command frames back.
package link

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Transport is one downstream byte link. Read may return (0, nil) when no
// data arrived within the transport's poll interval.
type Transport interface {
	Send(p []byte) error
	Read(p []byte) (int, error)
	Close() error
	String() string
}

type Config struct {
	Transport string
	Dest      string
	Listen    string
	Device    string
	Baud      int
}

var (
	openUDPFn    = NewUDP
	openSerialFn = NewSerial
)

// Open builds the transport named by cfg.Transport.
func Open(cfg Config) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "udp":
		return openUDPFn(cfg.Dest, cfg.Listen)
	case "serial":
		return openSerialFn(cfg.Device, cfg.Baud)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

type packetConn interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
	ReadFrom(p []byte) (int, net.Addr, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type listenFunc func(network string, laddr *net.UDPAddr) (packetConn, error)

func listenUDP(network string, laddr *net.UDPAddr) (packetConn, error) {
	return net.ListenUDP(network, laddr)
}

// UDP sends every frame to a fixed destination and receives on the same
// socket, so replies to the source port come back to us.
type UDP struct {
	dest *net.UDPAddr
	conn packetConn
}

func NewUDP(dest, listen string) (Transport, error) {
	return newUDP(dest, listen, net.ResolveUDPAddr, listenUDP)
}

func newUDP(dest, listen string, resolve resolveFunc, listenFn listenFunc) (*UDP, error) {
	raddr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	var laddr *net.UDPAddr
	if strings.TrimSpace(listen) != "" {
		laddr, err = resolve("udp", listen)
		if err != nil {
			return nil, fmt.Errorf("resolve listen: %w", err)
		}
	}
	conn, err := listenFn("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return &UDP{dest: raddr, conn: conn}, nil
}

func (u *UDP) Send(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := u.conn.WriteTo(p, u.dest)
	return err
}

func (u *UDP) Read(p []byte) (int, error) {
	n, _, err := u.conn.ReadFrom(p)
	return n, err
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

func (u *UDP) String() string { return "udp://" + u.dest.String() }

// Serial is a UART link to the controller.
type Serial struct {
	name string
	port io.ReadWriteCloser
}

var serialReadTimeout = 500 * time.Millisecond

func NewSerial(device string, baud int) (Transport, error) {
	if strings.TrimSpace(device) == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if baud <= 0 {
		baud = 115200
	}
	p, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: serialReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &Serial{name: device, port: p}, nil
}

func (s *Serial) Send(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := s.port.Write(p)
	return err
}

// Read maps the port's read timeout (io.EOF with no data) to an empty read.
func (s *Serial) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (s *Serial) Close() error { return s.port.Close() }

func (s *Serial) String() string { return "serial://" + s.name }
