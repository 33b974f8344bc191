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

package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

const (
	defaultFetchAttempts     = 3
	defaultFetchInitialDelay = 250 * time.Millisecond
	defaultFetchMaxDelay     = 2 * time.Second
	maxSnapshotBytes         = 8 << 20

	snapshotPath = "/api/monitoring/snapshot"
)

var (
	// ErrUnexpectedStatus indicates the gateway answered a snapshot request with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrEmptySnapshot indicates the gateway returned an empty body.
	ErrEmptySnapshot = errors.New("empty snapshot")
)

// HTTPFetcher pulls snapshots from the gateway REST API, retrying transient failures
// (network errors, 5xx, 429) with exponential backoff inside a single call.
type HTTPFetcher struct {
	client   *http.Client
	url      string
	header   http.Header
	attempts uint
	logger   logger.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a fetcher for gatewayURL (scheme and host of the REST API).
func NewHTTPFetcher(client *http.Client, gatewayURL string, header http.Header, log logger.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPFetcher{
		client:   client,
		url:      joinURL(gatewayURL, snapshotPath),
		header:   header,
		attempts: defaultFetchAttempts,
		logger:   log.WithComponent("snapshot-fetcher"),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*models.MonitoringSnapshot, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultFetchInitialDelay
	bo.MaxInterval = defaultFetchMaxDelay

	operation := func() (*models.MonitoringSnapshot, error) {
		return f.fetchOnce(ctx)
	}

	notify := func(err error, next time.Duration) {
		f.logger.Debug().Err(err).Dur("retry_in", next).Msg("Snapshot fetch failed, retrying")
	}

	snapshot, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(f.attempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	return snapshot, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context) (*models.MonitoringSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	for k, v := range f.header {
		req.Header[k] = v
	}

	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}

		return nil, backoff.Permanent(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, backoff.Permanent(ErrEmptySnapshot)
	}

	var snapshot models.MonitoringSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode snapshot: %w", err))
	}

	return &snapshot, nil
}
