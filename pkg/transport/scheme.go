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
	"fmt"
	"net/url"

	"github.com/carverauto/fleetwatch/pkg/models"
)

// SchemeOpener routes each Open to the opener registered for the target's URL scheme,
// so one stream controller can move between SSE and NATS targets.
type SchemeOpener map[string]StreamOpener

var _ StreamOpener = SchemeOpener(nil)

func (s SchemeOpener) Open(rawURL string, h StreamHandler) StreamConn {
	u, err := url.Parse(rawURL)
	if err != nil {
		go h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()})
		return noopConn{}
	}

	opener, ok := s[u.Scheme]
	if !ok {
		reason := fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme).Error()
		go h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: reason})

		return noopConn{}
	}

	return opener.Open(rawURL, h)
}

type noopConn struct{}

func (noopConn) Close() {}
