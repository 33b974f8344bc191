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

// Package natsutil holds the NATS connection and JetStream publishing helpers.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
		logger: log,
	}
}

// Publish sends event on subject. The event id doubles as the JetStream message id so
// redelivered publishes are deduplicated by the server.
func (p *EventPublisher) Publish(ctx context.Context, subject string, event *models.CloudEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = eventBytes
	msg.Header.Set(nats.MsgIdHdr, event.ID)

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Str("stream", p.stream).
		Uint64("seq", ack.Sequence).
		Msg("Published event")

	return nil
}

// Stream returns the JetStream stream name events are published to.
func (p *EventPublisher) Stream() string {
	return p.stream
}

// Connect creates a NATS connection with optional TLS and logging handlers.
func Connect(natsURL string, security *models.SecurityConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if UsesTLS(security) {
		tlsConf, err := TLSConfig(security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// ConnectWithEventPublisher connects to NATS, makes sure streamName covers subjects
// and returns a publisher for it.
func ConnectWithEventPublisher(
	ctx context.Context,
	natsURL string,
	security *models.SecurityConfig,
	streamName string,
	subjects []string,
	log logger.Logger,
) (*EventPublisher, *nats.Conn, error) {
	nc, err := Connect(natsURL, security, log)
	if err != nil {
		return nil, nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := EnsureStream(ctx, js, streamName, subjects, log); err != nil {
		nc.Close()
		return nil, nil, err
	}

	return NewEventPublisher(js, streamName, log), nc, nil
}

// EnsureStream creates streamName when missing, or widens its subject list so every
// subject in subjects is captured.
func EnsureStream(ctx context.Context, js jetstream.JetStream, streamName string, subjects []string, log logger.Logger) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Strs("subjects", subjects).Msg("Created NATS JetStream stream")

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", streamName, err)
	}

	cfg := info.Config
	updated := append([]string(nil), cfg.Subjects...)

	for _, subject := range subjects {
		updated = ensureSubjectList(updated, subject)
	}

	if len(updated) == len(cfg.Subjects) {
		return nil
	}

	cfg.Subjects = updated

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update stream %s subjects: %w", streamName, err)
	}

	log.Info().Str("stream", streamName).Strs("subjects", updated).Msg("Extended NATS JetStream stream subjects")

	return nil
}

// ensureSubjectList appends subject unless an existing pattern already matches it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern ("*" and ">" wildcards)
// matches subject.
func matchesSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, p := range pTokens {
		if p == ">" {
			return len(sTokens) > i
		}

		if i >= len(sTokens) {
			return false
		}

		if p != "*" && p != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
