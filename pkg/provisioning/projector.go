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

// Package provisioning projects the event stream of a provisioning session into a
// queryable view of its devices, session status and provisioning network.
package provisioning

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/realtime"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

var (
	// ErrGatewayReported wraps error events sent in-band by the gateway.
	ErrGatewayReported = errors.New("gateway reported error")
	// ErrMissingDeviceID indicates a device event without an identity.
	ErrMissingDeviceID = errors.New("device event without id")
	// ErrUnknownDeviceState indicates a state change to a state this build does not know.
	ErrUnknownDeviceState = errors.New("unknown device state")
)

// Config configures a Projector.
type Config struct {
	SessionID string
	// URL is the session's event stream; see StreamURL and NATSStreamURL.
	URL     string
	Enabled bool
	Retry   realtime.RetryPolicy
	// OnError receives in-band gateway errors and the terminal stream error.
	OnError func(error)
}

// Change describes one mutation of the projection.
type Change struct {
	Kind      string                    `json:"kind"`
	SessionID string                    `json:"session_id"`
	Device    *models.DeviceProjection  `json:"device,omitempty"`
	Session   *models.SessionProjection `json:"session,omitempty"`
	Network   *models.NetworkStatus     `json:"network,omitempty"`
	At        time.Time                 `json:"at"`
}

// Summary is the aggregate view of a session.
type Summary struct {
	SessionID   string                     `json:"session_id"`
	Session     *models.SessionProjection  `json:"session,omitempty"`
	Network     *models.NetworkStatus      `json:"network,omitempty"`
	Counts      map[models.DeviceState]int `json:"counts"`
	Progress    Progress                   `json:"progress"`
	StreamState models.ConnectionState     `json:"stream_state"`
	StreamError string                     `json:"stream_error,omitempty"`
	// LastEventAt is the timestamp of the last well-formed known event, heartbeats included.
	LastEventAt *time.Time                 `json:"last_event_at,omitempty"`
}

// envelope is the wire shape of a session event. Transports that carry the event
// kind out of band (NATS subjects) deliver the data object directly.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Projector folds a session's event stream into DeviceProjections, a
// SessionProjection and a NetworkStatus. Devices are never removed during a session.
// All methods must be called on the event loop.
type Projector struct {
	loop   eventloop.Loop
	logger logger.Logger
	stream *realtime.StreamController
	cfg    Config

	devices []models.DeviceProjection
	index   map[string]int
	session *models.SessionProjection
	network *models.NetworkStatus

	lastEventAt time.Time
	listeners   []func(Change)
}

// NewProjector builds an idle projector for one session. Call Start to open the stream.
func NewProjector(loop eventloop.Loop, opener transport.StreamOpener, cfg Config, log logger.Logger) *Projector {
	p := &Projector{
		loop:   loop,
		logger: log.WithComponent("provisioning"),
		cfg:    cfg,
		index:  make(map[string]int),
	}

	p.stream = realtime.NewStreamController(loop, opener, p.streamConfig(cfg), log)

	return p
}

func (p *Projector) streamConfig(cfg Config) realtime.StreamConfig {
	return realtime.StreamConfig{
		URL:     cfg.URL,
		Enabled: cfg.Enabled,
		Retry:   cfg.Retry,
		OnEvent: p.handleEvent,
		OnError: p.reportError,
	}
}

// OnChange registers fn to be called after every mutating event.
func (p *Projector) OnChange(fn func(Change)) {
	p.listeners = append(p.listeners, fn)
}

// Start opens the session stream.
func (p *Projector) Start() {
	p.stream.Start()
}

// Stop closes the stream. The projection is kept until the session changes.
func (p *Projector) Stop() {
	p.stream.Stop()
}

// Reconnect reopens the stream with a fresh retry budget.
func (p *Projector) Reconnect() {
	p.stream.Reconnect()
}

// Close closes the stream and suppresses automatic reconnection.
func (p *Projector) Close() {
	p.stream.Close()
}

// Update applies a new configuration. Switching to another session discards the
// current projection.
func (p *Projector) Update(cfg Config) {
	if cfg.SessionID != p.cfg.SessionID {
		p.logger.Info().
			Str("from", p.cfg.SessionID).
			Str("to", cfg.SessionID).
			Msg("Provisioning session changed, resetting projection")
		p.reset()
	}

	p.cfg = cfg
	p.stream.Update(p.streamConfig(cfg))
}

func (p *Projector) reset() {
	p.devices = nil
	p.index = make(map[string]int)
	p.session = nil
	p.network = nil
	p.lastEventAt = time.Time{}
}

// SessionID returns the session being projected.
func (p *Projector) SessionID() string {
	return p.cfg.SessionID
}

// StreamState returns the connection state of the session stream.
func (p *Projector) StreamState() models.ConnectionState {
	return p.stream.State()
}

// Devices returns a copy of the device list in discovery order.
func (p *Projector) Devices() []models.DeviceProjection {
	out := make([]models.DeviceProjection, len(p.devices))
	copy(out, p.devices)

	return out
}

// Device returns the projection of id.
func (p *Projector) Device(id string) (models.DeviceProjection, bool) {
	i, ok := p.index[id]
	if !ok {
		return models.DeviceProjection{}, false
	}

	return p.devices[i], true
}

// Session returns the last session status, or nil.
func (p *Projector) Session() *models.SessionProjection {
	return p.session
}

// Network returns the last network status, or nil.
func (p *Projector) Network() *models.NetworkStatus {
	return p.network
}

// Counts returns the number of devices per state, recomputed from the device list.
func (p *Projector) Counts() map[models.DeviceState]int {
	return CountByState(p.devices)
}

// Progress returns the completion of the session.
func (p *Projector) Progress() Progress {
	return ComputeProgress(p.devices)
}

// Summary returns the aggregate view of the session.
func (p *Projector) Summary() Summary {
	s := Summary{
		SessionID:   p.cfg.SessionID,
		Session:     p.session,
		Network:     p.network,
		Counts:      p.Counts(),
		Progress:    p.Progress(),
		StreamState: p.stream.State(),
	}

	if err := p.stream.LastError(); err != nil {
		s.StreamError = err.Error()
	}

	if !p.lastEventAt.IsZero() {
		at := p.lastEventAt
		s.LastEventAt = &at
	}

	return s
}

func (p *Projector) handleEvent(ev realtime.StreamEvent) {
	var env envelope
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			recordEvent(ev.Type, outcomeMalformed)
			p.logger.Warn().Err(err).Str("event_type", ev.Type).Msg("Dropping malformed provisioning event")

			return
		}
	}

	data := env.Data
	if len(data) == 0 {
		data = json.RawMessage(ev.Payload)
	}

	at := env.Timestamp
	if at.IsZero() {
		at = p.loop.Now()
	}

	var err error

	switch ev.Type {
	case models.EventConnected, models.EventHeartbeat:
		p.lastEventAt = at
		recordEvent(ev.Type, outcomeIgnored)

		return
	case models.EventSessionStatus:
		err = p.applySessionStatus(data, at)
	case models.EventDeviceDiscovered:
		err = p.applyDiscovered(data, at)
	case models.EventDeviceStateChanged:
		err = p.applyStateChanged(data, at)
	case models.EventNetworkStatus:
		err = p.applyNetworkStatus(data, at)
	case models.EventError:
		err = p.applyError(data)
	default:
		recordEvent(ev.Type, outcomeIgnored)
		p.logger.Warn().Str("event_type", ev.Type).Msg("Ignoring unrecognized provisioning event")

		return
	}

	if err != nil {
		recordEvent(ev.Type, outcomeMalformed)
		p.logger.Warn().Err(err).Str("event_type", ev.Type).Msg("Dropping provisioning event")

		return
	}

	p.lastEventAt = at
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("decode %T: empty payload", v)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}

	return nil
}

func (p *Projector) applySessionStatus(data json.RawMessage, at time.Time) error {
	var session models.SessionProjection
	if err := decode(data, &session); err != nil {
		return err
	}

	if session.ID == "" {
		session.ID = p.cfg.SessionID
	}

	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = at
	}

	p.session = &session

	recordEvent(models.EventSessionStatus, outcomeApplied)
	p.emit(Change{Kind: models.EventSessionStatus, Session: &session, At: at})

	return nil
}

func (p *Projector) applyNetworkStatus(data json.RawMessage, at time.Time) error {
	var network models.NetworkStatus
	if err := decode(data, &network); err != nil {
		return err
	}

	p.network = &network

	recordEvent(models.EventNetworkStatus, outcomeApplied)
	p.emit(Change{Kind: models.EventNetworkStatus, Network: &network, At: at})

	return nil
}

func (p *Projector) applyDiscovered(data json.RawMessage, at time.Time) error {
	var ev models.DeviceDiscoveredEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	if ev.ID == "" {
		return ErrMissingDeviceID
	}

	if _, exists := p.index[ev.ID]; exists {
		recordEvent(models.EventDeviceDiscovered, outcomeNoop)
		p.logger.Debug().Str("device_id", ev.ID).Msg("Device already discovered")

		return nil
	}

	discoveredAt := ev.Timestamp
	if discoveredAt.IsZero() {
		discoveredAt = at
	}

	device := models.DeviceProjection{
		ID:              ev.ID,
		IP:              ev.IP,
		State:           models.DeviceDiscovered,
		Signal:          ev.Signal,
		FirmwareVersion: ev.FirmwareVersion,
		DiscoveredAt:    discoveredAt,
	}

	p.index[ev.ID] = len(p.devices)
	p.devices = append(p.devices, device)

	p.logger.Info().Str("device_id", ev.ID).Str("ip", ev.IP).Msg("Device discovered")
	recordEvent(models.EventDeviceDiscovered, outcomeApplied)
	p.emit(Change{Kind: models.EventDeviceDiscovered, Device: &device, At: at})

	return nil
}

func (p *Projector) applyStateChanged(data json.RawMessage, at time.Time) error {
	var ev models.DeviceStateChangedEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	if ev.ID == "" {
		return ErrMissingDeviceID
	}

	if !ev.NewState.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDeviceState, ev.NewState)
	}

	i, ok := p.index[ev.ID]
	if !ok {
		// out-of-order delivery or a missed discovery; the device is not created here
		recordEvent(models.EventDeviceStateChanged, outcomeNoop)
		p.logger.Debug().
			Str("device_id", ev.ID).
			Str("new_state", string(ev.NewState)).
			Msg("State change for unknown device")

		return nil
	}

	changedAt := ev.Timestamp
	if changedAt.IsZero() {
		changedAt = at
	}

	device := &p.devices[i]
	device.State = ev.NewState

	if ev.IP != "" {
		device.IP = ev.IP
	}

	if ev.FirmwareVersion != "" {
		device.FirmwareVersion = ev.FirmwareVersion
	}

	if ev.RetryCount != nil {
		device.RetryCount = *ev.RetryCount
	}

	switch ev.NewState {
	case models.DeviceProvisioned:
		device.ProvisionedAt = &changedAt
	case models.DeviceVerified:
		device.VerifiedAt = &changedAt
	case models.DeviceFailed:
		device.ErrorMessage = ev.ErrorMessage
	case models.DeviceDiscovered, models.DeviceProvisioning, models.DeviceVerifying:
	}

	snapshot := *device

	p.logger.Info().
		Str("device_id", ev.ID).
		Str("previous_state", string(ev.PreviousState)).
		Str("new_state", string(ev.NewState)).
		Msg("Device state changed")
	recordEvent(models.EventDeviceStateChanged, outcomeApplied)
	p.emit(Change{Kind: models.EventDeviceStateChanged, Device: &snapshot, At: at})

	return nil
}

func (p *Projector) applyError(data json.RawMessage) error {
	var ev models.StreamErrorEvent
	if len(data) > 0 {
		if err := decode(data, &ev); err != nil {
			return err
		}
	}

	if ev.Message == "" {
		ev.Message = "unspecified"
	}

	err := fmt.Errorf("%w: %s", ErrGatewayReported, ev.Message)
	if ev.Code != "" {
		err = fmt.Errorf("%w: [%s] %s", ErrGatewayReported, ev.Code, ev.Message)
	}

	recordEvent(models.EventError, outcomeApplied)
	p.logger.Warn().Str("code", ev.Code).Str("message", ev.Message).Msg("Gateway reported provisioning error")
	p.reportError(err)

	return nil
}

func (p *Projector) reportError(err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}

func (p *Projector) emit(change Change) {
	change.SessionID = p.cfg.SessionID

	for _, fn := range p.listeners {
		fn(change)
	}
}
