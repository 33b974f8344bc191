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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

const maxSSELineBytes = 1 << 20

// ErrUnexpectedStatus indicates the server answered a stream request with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// SSEOpener opens text/event-stream connections.
type SSEOpener struct {
	Client *http.Client
	Header http.Header
	Logger logger.Logger
}

var _ StreamOpener = (*SSEOpener)(nil)

// NewSSEOpener returns an opener using client, which must not set an overall
// request timeout since streams are long-lived.
func NewSSEOpener(client *http.Client, header http.Header, log logger.Logger) *SSEOpener {
	return &SSEOpener{Client: client, Header: header, Logger: log}
}

func (o *SSEOpener) Open(url string, h StreamHandler) StreamConn {
	ctx, cancel := context.WithCancel(context.Background())

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	log := o.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	go runSSE(ctx, client, url, o.Header.Clone(), h, log)

	return sseConn{cancel: cancel}
}

type sseConn struct {
	cancel context.CancelFunc
}

func (c sseConn) Close() {
	c.cancel()
}

func runSSE(ctx context.Context, client *http.Client, url string, header http.Header, h StreamHandler, log logger.Logger) {
	closedLocally := models.CloseInfo{Code: models.CloseNormal, Reason: "closed locally", Clean: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()})
		return
	}

	for k, v := range header {
		req.Header[k] = v
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			h.OnClose(closedLocally)
			return
		}

		h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()})

		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()})

		return
	}

	h.OnOpen()

	err = ParseSSE(resp.Body, h.OnEvent)

	if ctx.Err() != nil {
		h.OnClose(closedLocally)
		return
	}

	reason := "stream ended"
	if err != nil {
		reason = err.Error()
		log.Debug().Err(err).Str("url", url).Msg("Event stream read failed")
	}

	h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: reason})
}

// ParseSSE reads a text/event-stream body and calls emit for every dispatched event.
// Comment lines are skipped. It returns nil at a clean EOF.
func ParseSSE(r io.Reader, emit func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxSSELineBytes)

	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)

	dispatch := func() {
		if hasData || ev.Type != "" {
			ev.Data = append([]byte(nil), data.Bytes()...)
			if !hasData {
				ev.Data = nil
			}

			emit(ev)
		}

		ev = Event{}
		data.Reset()
		hasData = false
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			dispatch()
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}

			data.WriteString(value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	// an unterminated trailing event is discarded, as browsers do
	return nil
}
