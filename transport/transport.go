// Package transport configures the QUIC endpoints qft runs over:
// github.com/quic-go/quic-go, the same library a real project in the
// example pack (twogc-quic-test) depends on directly. UPLOAD_PACKET
// symbols ride quic-go's unreliable datagram extension; every other
// control exchange opens a fresh bidirectional stream, per spec.md §4.1.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/qft-go/qft/certs"
)

// quicConfig is shared by both endpoints. Datagrams must be enabled for
// UPLOAD_PACKET; keepalives are left to the transport as spec.md's
// "timeouts: none at the application layer" requires.
func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams:      true,
		MaxIdleTimeout:       2 * time.Minute,
		KeepAlivePeriod:      30 * time.Second,
		MaxIncomingStreams:   1 << 16,
		MaxStreamReceiveWindow: 64 * 1024 * 1024,
	}
}

// ListenServer opens a QUIC listener bound to addr, authenticating as
// certs.ServerIdentity with the given certificate. No client
// authentication is required: any peer completing the handshake may
// transfer, per spec.md §6's "server authorization: none".
func ListenServer(addr string, cert tls.Certificate) (*quic.Listener, error) {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"qft"},
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	return ln, nil
}

// DialClient connects to addr, trusting only the given leaf certificate
// (distributed out-of-band, exactly as spec.md §6 describes: no CA
// chain, no client certificate).
func DialClient(ctx context.Context, addr string, certDER []byte) (quic.Connection, error) {
	pool, err := certs.TrustedPool(certDER)
	if err != nil {
		return nil, fmt.Errorf("transport: build trust pool: %w", err)
	}
	tlsConf := &tls.Config{
		RootCAs:    pool,
		ServerName: certs.ServerIdentity,
		NextProtos: []string{"qft"},
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

// RemoteAddrString formats a connection's remote address for log lines,
// matching the teacher's "Connection (%s) ..." log style.
func RemoteAddrString(conn quic.Connection) string {
	if a, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		return a.String()
	}
	return conn.RemoteAddr().String()
}

// ListenServerOnConn is ListenServer for a caller-supplied net.PacketConn,
// used by tests that need to interpose a loss-injecting conn
// (lossyconn.Conn) between the two endpoints.
func ListenServerOnConn(pc net.PacketConn, cert tls.Certificate) (*quic.Listener, error) {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"qft"},
	}
	tr := &quic.Transport{Conn: pc}
	ln, err := tr.Listen(tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", pc.LocalAddr(), err)
	}
	return ln, nil
}

// DialClientOnConn is DialClient for a caller-supplied net.PacketConn and
// explicit remote address, for the same loss-injection test harness.
func DialClientOnConn(ctx context.Context, pc net.PacketConn, raddr net.Addr, certDER []byte) (quic.Connection, error) {
	pool, err := certs.TrustedPool(certDER)
	if err != nil {
		return nil, fmt.Errorf("transport: build trust pool: %w", err)
	}
	tlsConf := &tls.Config{
		RootCAs:    pool,
		ServerName: certs.ServerIdentity,
		NextProtos: []string{"qft"},
	}
	tr := &quic.Transport{Conn: pc}
	conn, err := tr.Dial(ctx, raddr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", raddr, err)
	}
	return conn, nil
}
