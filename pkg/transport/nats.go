/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/natsutil"
)

// ErrMissingSubject indicates a NATS stream URL without a subject path.
var ErrMissingSubject = errors.New("nats url has no subject")

// NATSStreamOpener subscribes to a NATS subject as a unidirectional stream. Targets
// look like nats://host:4222/provisioning.sessions.s1.events; the path is the subject
// and may use wildcards. The client's own reconnect logic is disabled so the stream
// controller's retry policy stays in charge.
type NATSStreamOpener struct {
	Security *models.SecurityConfig
	Logger   logger.Logger
}

var _ StreamOpener = (*NATSStreamOpener)(nil)

// NewNATSStreamOpener returns an opener; security may be nil for plaintext servers.
func NewNATSStreamOpener(security *models.SecurityConfig, log logger.Logger) *NATSStreamOpener {
	return &NATSStreamOpener{Security: security, Logger: log}
}

// ParseNATSTarget splits a stream URL into the server URL and the subject.
func ParseNATSTarget(rawURL string) (server, subject string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid nats url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "nats", "tls":
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	subject = strings.Trim(u.Path, "/")
	if subject == "" {
		return "", "", ErrMissingSubject
	}

	server = (&url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}).String()

	return server, subject, nil
}

func (o *NATSStreamOpener) Open(rawURL string, h StreamHandler) StreamConn {
	log := o.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	s := &natsStream{handler: h}

	go s.run(rawURL, o.Security, log)

	return s
}

type natsStream struct {
	handler StreamHandler

	mu            sync.Mutex
	nc            *nats.Conn
	closedLocally bool
	done          bool
}

func (s *natsStream) run(rawURL string, security *models.SecurityConfig, log logger.Logger) {
	server, subject, err := ParseNATSTarget(rawURL)
	if err != nil {
		s.report(models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()})
		return
	}

	nc, err := natsutil.Connect(server, security, log,
		nats.Name("fleetwatch-stream"),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			s.mu.Lock()
			local := s.closedLocally
			s.mu.Unlock()

			if local {
				s.report(models.CloseInfo{Code: models.CloseNormal, Reason: "closed locally", Clean: true})
				return
			}

			reason := "connection closed"
			if err := nc.LastError(); err != nil {
				reason = err.Error()
			}

			s.report(models.CloseInfo{Code: models.CloseAbnormal, Reason: reason})
		}),
	)
	if err != nil {
		s.report(models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()})
		return
	}

	s.mu.Lock()
	if s.closedLocally {
		s.mu.Unlock()
		nc.Close()

		return
	}

	s.nc = nc
	s.mu.Unlock()

	_, err = nc.Subscribe(subject, func(msg *nats.Msg) {
		s.deliver(Event{
			Type: lastToken(msg.Subject),
			ID:   msg.Header.Get(nats.MsgIdHdr),
			Data: msg.Data,
		})
	})
	if err == nil {
		err = nc.Flush()
	}

	if err != nil {
		s.report(models.CloseInfo{Code: models.CloseAbnormal, Reason: fmt.Sprintf("subscribe %s: %v", subject, err)})
		nc.Close()

		return
	}

	s.open()
}

func (s *natsStream) open() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.done {
		s.handler.OnOpen()
	}
}

func (s *natsStream) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.done {
		s.handler.OnEvent(ev)
	}
}

func (s *natsStream) report(info models.CloseInfo) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}

	s.done = true
	s.mu.Unlock()

	s.handler.OnClose(info)
}

func (s *natsStream) Close() {
	s.mu.Lock()
	if s.closedLocally {
		s.mu.Unlock()
		return
	}

	s.closedLocally = true
	nc := s.nc
	s.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
}

func lastToken(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}

	return subject
}
