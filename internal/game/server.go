package game

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Dispatcher executes one command line for p. Returning true ends the
// session.
type Dispatcher func(g *Game, p *Player, line string) bool

type serverOptions struct {
	enableTLS bool
	certFile  string
	keyFile   string
}

// ServerOption customises ListenAndServe.
type ServerOption func(*serverOptions)

// WithTLS serves telnet over TLS. Missing certificate files are replaced by
// a generated self-signed pair.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(opts *serverOptions) {
		opts.enableTLS = true
		opts.certFile = strings.TrimSpace(certFile)
		opts.keyFile = strings.TrimSpace(keyFile)
	}
}

var (
	netListenFunc         = net.Listen
	tlsListenFunc         = tls.Listen
	ensureCertificateFunc = ensureCertificate
)

const (
	postLoginPrompt = "Type 'help' to learn the essentials or 'look' to see where you are."
	logoffMessage   = "The river keeps flowing. Until next time."
	serverFullText  = "Server is full. Please try again later."
)

// ensureCertificate loads the TLS pair, writing a self-signed one for
// addr first when either file is missing or unreadable. created reports
// whether a new pair was written.
func ensureCertificate(certFile, keyFile, addr string) (cert tls.Certificate, created bool, err error) {
	if cert, err = tls.LoadX509KeyPair(certFile, keyFile); err == nil {
		return cert, false, nil
	}
	certPEM, keyPEM, err := selfSignedPair(addr, time.Now())
	if err != nil {
		return tls.Certificate{}, false, fmt.Errorf("generate certificate: %w", err)
	}
	if err := writePEM(certFile, certPEM, 0o644); err != nil {
		return tls.Certificate{}, false, err
	}
	if err := writePEM(keyFile, keyPEM, 0o600); err != nil {
		return tls.Certificate{}, false, err
	}
	cert, err = tls.X509KeyPair(certPEM, keyPEM)
	return cert, err == nil, err
}

func writePEM(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, mode)
}

// selfSignedPair issues a one-year ECDSA certificate naming the host addr
// binds to, or localhost for wildcard binds.
func selfSignedPair(addr string, now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "SAMUD telnet", Organization: []string{"SAMUD"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	tmpl.DNSNames, tmpl.IPAddresses = certHosts(addr)
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func certHosts(addr string) ([]string, []net.IP) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	switch {
	case host == "" || (ip != nil && ip.IsUnspecified()):
		return []string{"localhost"}, []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	case ip != nil:
		return nil, []net.IP{ip}
	default:
		return []string{host}, nil
	}
}

// Serve runs one connection from registration to close. It never lets a
// fault in this connection escape.
func (g *Game) Serve(ctx context.Context, conn LineConn, dispatch Dispatcher) {
	s, err := g.Sessions.Register(conn)
	if err != nil {
		if errors.Is(err, ErrServerFull) {
			g.Log.Warn("connection refused, server full", zap.String("remote", conn.RemoteAddr()))
			_ = conn.WriteString(Ansi("\r\n" + Style(serverFullText, AnsiYellow) + "\r\n"))
		}
		_ = conn.Close()
		return
	}
	reason := "disconnect"
	defer func() {
		if rec := recover(); rec != nil {
			g.Log.Error("session panicked", zap.String("session", s.ID), zap.Any("panic", rec))
			reason = "internal error"
		}
		g.Sessions.Close(s, reason)
	}()

	p, err := g.Login(ctx, s)
	if err != nil {
		g.Log.Debug("login ended", zap.String("session", s.ID), zap.Error(err))
		return
	}
	p.Send(Ansi(Style("\r\n"+postLoginPrompt, AnsiGreen)))
	p.Send(Prompt())

	for {
		line, err := s.ReadLine()
		if errors.Is(err, ErrProtocol) {
			p.Send(Envelope{Channel: ChannelSystem, Text: "Input line too long; it was ignored."}.Render())
			p.Send(Prompt())
			continue
		}
		if err != nil {
			return
		}
		g.Sessions.Touch(s)
		line = Trim(line)
		if line == "" {
			p.Send(Prompt())
			continue
		}
		if dispatch(g, p, line) {
			p.Send(Ansi("\r\n" + Style(logoffMessage, AnsiMagenta, AnsiBold) + "\r\n"))
			reason = "quit"
			return
		}
		p.Send(Prompt())
	}
}

// ListenAndServe accepts telnet connections on addr until ctx is cancelled
// or the listener fails.
func (g *Game) ListenAndServe(ctx context.Context, addr string, dispatch Dispatcher, opts ...ServerOption) error {
	if dispatch == nil {
		return errors.New("dispatcher must not be nil")
	}
	options := serverOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var ln net.Listener
	if options.enableTLS {
		cert, created, err := ensureCertificateFunc(options.certFile, options.keyFile, addr)
		if err != nil {
			return err
		}
		if created {
			g.Log.Info("generated self-signed TLS certificate", zap.String("cert", options.certFile), zap.String("key", options.keyFile))
		}
		ln, err = tlsListenFunc("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			return err
		}
	} else {
		var err error
		ln, err = netListenFunc("tcp", addr)
		if err != nil {
			return err
		}
	}
	g.Log.Info("telnet listening", zap.Stringer("addr", ln.Addr()), zap.Bool("tls", options.enableTLS))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	err := acceptConnections(ln, g.Log, func(conn net.Conn) {
		go g.Serve(ctx, NewTelnetSession(conn), dispatch)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

const (
	acceptBackoffStart = 50 * time.Millisecond
	acceptBackoffMax   = time.Second
)

var acceptSleep = time.Sleep

func acceptConnections(ln net.Listener, log *zap.Logger, handle func(net.Conn)) error {
	backoff := acceptBackoffStart
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isTemporaryAcceptError(err) {
				log.Warn("temporary accept error", zap.Error(err), zap.Duration("retry_in", backoff))
				acceptSleep(backoff)
				backoff *= 2
				if backoff > acceptBackoffMax {
					backoff = acceptBackoffMax
				}
				continue
			}
			return err
		}
		backoff = acceptBackoffStart
		handle(conn)
	}
}

// isTemporaryAcceptError reports accept failures worth retrying: timeouts
// and descriptor exhaustion.
func isTemporaryAcceptError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && (ne.Timeout() || ne.Temporary())
}
