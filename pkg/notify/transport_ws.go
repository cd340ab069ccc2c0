package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSDialer implements Dialer over gorilla/websocket, cycling through a
// list of topic-bus URLs on connection failure (spec section 4.5:
// "multiple URL failover").
type WSDialer struct {
	urls    []string
	tlsConf *tls.Config
	timeout time.Duration
	logger  *logrus.Entry
}

// TLSConfig carries mTLS material for the messaging connection.
type TLSConfig struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// NewWSDialer builds a WSDialer. urls are tried in order on every Dial
// call; tls may be the zero value for a plaintext connection.
func NewWSDialer(urls []string, tlsCfg TLSConfig, timeout time.Duration) (*WSDialer, error) {
	var conf *tls.Config
	if tlsCfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading messaging client certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if tlsCfg.CAFile != "" {
			caPEM, err := os.ReadFile(tlsCfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("reading messaging CA bundle: %w", err)
			}
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no certificates found in messaging CA bundle %s", tlsCfg.CAFile)
			}
		}
		conf = &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
		}
	}

	return &WSDialer{
		urls:    urls,
		tlsConf: conf,
		timeout: timeout,
		logger:  logrus.WithField("component", "notify-ws"),
	}, nil
}

// Dial tries each configured URL in order, returning the first successful
// connection. All URLs exhausted ⇒ an error (the caller logs and gives
// up, per spec section 4.5).
func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := &websocket.Dialer{
		TLSClientConfig:  d.tlsConf,
		HandshakeTimeout: d.timeout,
	}

	var lastErr error
	for _, url := range d.urls {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			d.logger.WithError(err).WithField("url", url).Warn("failed to connect to messaging URL, trying next")
			lastErr = err
			continue
		}
		return &wsTransport{conn: conn, senders: map[string]*sender{}, logger: d.logger}, nil
	}
	return nil, fmt.Errorf("all messaging URLs exhausted: %w", lastErr)
}

// sender serialises writes to a single address within one connection.
// Bus.send dials a fresh connection for each envelope, so a wsTransport
// created by Bus holds a single sender; senders are not shared across
// connections.
type sender struct {
	mu sync.Mutex
}

type wsTransport struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	senders map[string]*sender
	logger  *logrus.Entry
}

func (t *wsTransport) senderFor(address string) *sender {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.senders[address]
	if !ok {
		s = &sender{}
		t.senders[address] = s
	}
	return s
}

// Send delivers one envelope. A failure here is a sender-level failure:
// logged by the caller (Bus.send), never raised further up the stack.
func (t *wsTransport) Send(ctx context.Context, env Envelope) error {
	s := t.senderFor(env.Address)
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
