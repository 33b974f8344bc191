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

package provisioning

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

const (
	cloudEventSource      = "fleetwatch/provisioning"
	cloudEventTypePrefix  = "com.carverauto.fleetwatch.provisioning."
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// ErrForwarderRunning is returned when Start is called twice.
var ErrForwarderRunning = errors.New("change forwarder already running")

// CloudEventPublisher publishes a CloudEvent on a subject; natsutil.EventPublisher
// satisfies it.
type CloudEventPublisher interface {
	Publish(ctx context.Context, subject string, event *models.CloudEvent) error
}

// NATSPublisher publishes projection changes as CloudEvents on
// <prefix>.<session>.<kind>.
type NATSPublisher struct {
	events        CloudEventPublisher
	subjectPrefix string
	now           func() time.Time
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher returns a Publisher writing to subjects under subjectPrefix.
func NewNATSPublisher(events CloudEventPublisher, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{events: events, subjectPrefix: subjectPrefix, now: time.Now}
}

func (p *NATSPublisher) PublishChange(ctx context.Context, change Change) error {
	at := change.At
	if at.IsZero() {
		at = p.now()
	}

	subject := ""
	if change.Device != nil {
		subject = change.Device.ID
	}

	event := &models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Source:          cloudEventSource + "/" + change.SessionID,
		Type:            cloudEventTypePrefix + change.Kind,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &at,
		Data:            change,
	}

	return p.events.Publish(ctx, SessionSubject(p.subjectPrefix, change.SessionID, change.Kind), event)
}

// Forwarder hands projection changes from the event loop to a Publisher on its own
// goroutine. Enqueue never blocks; changes are dropped when the queue is full.
type Forwarder struct {
	publisher Publisher
	logger    logger.Logger
	timeout   time.Duration
	queue     chan Change

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewForwarder returns a forwarder with a queue of queueSize changes (default 256).
func NewForwarder(publisher Publisher, queueSize int, log logger.Logger) *Forwarder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Forwarder{
		publisher: publisher,
		logger:    log.WithComponent("change-forwarder"),
		timeout:   defaultPublishTimeout,
		queue:     make(chan Change, queueSize),
	}
}

// Enqueue schedules change for publishing. It reports false when the change was dropped.
func (f *Forwarder) Enqueue(change Change) bool {
	select {
	case f.queue <- change:
		return true
	default:
		recordDroppedChange()
		f.logger.Warn().Str("kind", change.Kind).Msg("Change queue full, dropping projection change")

		return false
	}
}

// Start launches the publishing goroutine.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return ErrForwarderRunning
	}

	f.running = true
	f.stopCh = make(chan struct{})
	f.wg.Add(1)

	go f.run(ctx, f.stopCh)

	return nil
}

// Stop waits for the publishing goroutine to exit. Queued changes are published first.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}

	f.running = false
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Forwarder) run(ctx context.Context, stopCh <-chan struct{}) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			f.flush(ctx)
			return
		case change := <-f.queue:
			f.publish(ctx, change)
		}
	}
}

func (f *Forwarder) flush(ctx context.Context) {
	for {
		select {
		case change := <-f.queue:
			f.publish(ctx, change)
		default:
			return
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, change Change) {
	pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.publisher.PublishChange(pubCtx, change); err != nil {
		f.logger.Warn().
			Err(err).
			Str("kind", change.Kind).
			Str("session_id", change.SessionID).
			Msg("Failed to publish projection change")
	}
}
