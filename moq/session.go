package moq

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

// alpnMoQ is the ALPN token offered when dialing a relay over raw QUIC.
const alpnMoQ = "moq-00"

// maxRequestID is the request quota advertised in CLIENT_SETUP.
const maxRequestID = 100

// Subscriber priorities, lower is higher. Video and audio share the
// highest priority so neither starves under congestion; the catalog is
// small and deprioritized.
const (
	priorityVideo   byte = 128
	priorityAudio   byte = 128
	priorityCatalog byte = 200
)

// Options tunes session establishment. The zero value is usable.
type Options struct {
	// TLSConfig overrides the dial TLS configuration. NextProtos is
	// forced to the MoQ ALPN token.
	TLSConfig *tls.Config

	// QUICConfig overrides the QUIC transport configuration.
	QUICConfig *quic.Config
}

// Session is a MoQ client session to a single relay.
type Session struct {
	log           *slog.Logger
	conn          quic.Connection
	control       quic.Stream
	controlReader *bufio.Reader
	controlMu     sync.Mutex

	nextRequestID uint64
	closed        atomic.Bool
}

// Connect dials the relay at rawURL (scheme://host[:port][/path]),
// performs the CLIENT_SETUP / SERVER_SETUP exchange, and returns an
// established session. The URL path, if any, is sent as the PATH setup
// parameter.
func Connect(ctx context.Context, rawURL string, opts *Options) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("moq: parse url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("moq: url %q has no host", rawURL)
	}

	addr := u.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
	}

	if opts == nil {
		opts = &Options{}
	}
	tlsConf := opts.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{alpnMoQ}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, opts.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("moq: dial %s: %w", addr, err)
	}

	s := &Session{
		log:  slog.With("component", "moq", "relay", addr),
		conn: conn,
	}

	if err := s.setup(ctx, strings.TrimPrefix(u.Path, "/")); err != nil {
		conn.CloseWithError(0, "setup failed")
		return nil, err
	}

	s.log.Info("session established")
	return s, nil
}

// setup opens the control stream and performs the setup exchange.
func (s *Session) setup(ctx context.Context, path string) error {
	control, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("moq: open control stream: %w", err)
	}
	s.control = control
	s.controlReader = bufio.NewReader(control)

	cs := ClientSetup{
		Versions:     []uint64{Version},
		Path:         path,
		HasPath:      path != "",
		MaxRequestID: maxRequestID,
	}
	if err := s.writeControl(MsgClientSetup, SerializeClientSetup(cs)); err != nil {
		return fmt.Errorf("moq: write CLIENT_SETUP: %w", err)
	}

	msgType, payload, err := ReadControlMsg(s.controlReader)
	if err != nil {
		return fmt.Errorf("moq: read SERVER_SETUP: %w", err)
	}
	if msgType != MsgServerSetup {
		return fmt.Errorf("moq: expected SERVER_SETUP (0x%x), got 0x%x", MsgServerSetup, msgType)
	}

	ss, err := ParseServerSetup(payload)
	if err != nil {
		return err
	}
	if ss.SelectedVersion != Version {
		return fmt.Errorf("%w (server selected 0x%x)", ErrVersionMismatch, ss.SelectedVersion)
	}
	return nil
}

// writeControl serializes a control message under the control mutex.
func (s *Session) writeControl(msgType uint64, payload []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	return WriteControlMsg(s.control, msgType, payload)
}

// Close terminates the session. Any active subscription's callbacks
// stop before Close returns on their own Subscription.Close.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Info("closing session")
	return s.conn.CloseWithError(0, "client shutdown")
}
