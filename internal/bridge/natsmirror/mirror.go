// Package natsmirror republishes presence transitions on NATS so other
// services can follow who is online without holding a WebSocket.
package natsmirror

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/core"
)

// Publisher is the subset of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON payload published on <prefix>.<identity>.
type Event struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	LastSeen *int64 `json:"last_seen,omitempty"`
	TS       int64  `json:"ts"`
}

// Mirror implements core.PresenceObserver.
type Mirror struct {
	pub    Publisher
	prefix string
	log    *zerolog.Logger
	now    func() time.Time
}

var _ core.PresenceObserver = (*Mirror)(nil)

// New builds a mirror publishing under prefix.
func New(pub Publisher, prefix string, logger *zerolog.Logger) *Mirror {
	if prefix == "" {
		prefix = "presence"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Mirror{pub: pub, prefix: prefix, log: logger, now: time.Now}
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("wirerelay-presence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// PresenceChanged publishes ev. Failures are logged; presence fan-out to
// WebSocket sessions never depends on NATS.
func (m *Mirror) PresenceChanged(ev core.PresenceEvent) {
	out := Event{Identity: ev.Identity, Online: ev.Online, TS: m.now().UnixMilli()}
	if ev.LastSeen != nil {
		ms := ev.LastSeen.UnixMilli()
		out.LastSeen = &ms
	}

	data, err := json.Marshal(out)
	if err != nil {
		m.log.Error().Err(err).Str("identity", ev.Identity).Msg("encode presence event")
		return
	}

	subject := Subject(m.prefix, ev.Identity)
	if err := m.pub.Publish(subject, data); err != nil {
		m.log.Warn().Err(err).Str("subject", subject).Msg("publish presence event")
	}
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject returns the NATS subject for identity. Characters that would split
// or wildcard the subject are replaced with '_'.
func Subject(prefix, identity string) string {
	return prefix + "." + tokenReplacer.Replace(identity)
}
