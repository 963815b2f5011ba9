// Copyright (c) 2017 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an "AS IS"
// BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package comm talks to the supervisor's loopback REST endpoints for
// whatever the worker cannot learn over the control socket: KV
// credentials and debugger frontend URLs.
package comm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/couchbase/eventing-consumer/logging"
)

// CredsInfo is one credentials lookup result.
type CredsInfo struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client caches credential lookups per endpoint. Lookups are infrequent
// (bootstrap, auth rotation) so a plain mutex-guarded map suffices.
type Client struct {
	baseURL   string
	appName   string
	http      *http.Client
	mu        sync.Mutex
	credCache map[string]CredsInfo
	logPrefix string
}

// NewClient points at the supervisor on hostAddr:port.
func NewClient(hostAddr, port, appName string) *Client {
	return &Client{
		baseURL:   fmt.Sprintf("http://%s:%s", hostAddr, port),
		appName:   appName,
		http:      &http.Client{Timeout: 5 * time.Second},
		credCache: make(map[string]CredsInfo),
		logPrefix: fmt.Sprintf("[comm:%s]", appName),
	}
}

// GetCreds fetches credentials for a KV endpoint, bypassing the cache.
func (c *Client) GetCreds(endpoint string) (CredsInfo, error) {
	q := url.Values{"endpoint": {endpoint}}
	resp, err := c.http.Get(c.baseURL + "/getCreds?" + q.Encode())
	if err != nil {
		return CredsInfo{}, fmt.Errorf("creds fetch for %q: %v", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CredsInfo{}, fmt.Errorf("creds fetch for %q: status %v", endpoint, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CredsInfo{}, err
	}
	var info CredsInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return CredsInfo{}, fmt.Errorf("creds decode for %q: %v", endpoint, err)
	}

	c.mu.Lock()
	c.credCache[endpoint] = info
	c.mu.Unlock()
	return info, nil
}

// GetCredsCached serves from cache, falling back to a live fetch.
func (c *Client) GetCredsCached(endpoint string) (CredsInfo, error) {
	c.mu.Lock()
	info, ok := c.credCache[endpoint]
	c.mu.Unlock()
	if ok {
		return info, nil
	}
	return c.GetCreds(endpoint)
}

// WriteDebuggerURL posts the engine's frontend URL for the UI to pick
// up. Failure is logged, not fatal: the URL file on disk still exists.
func (c *Client) WriteDebuggerURL(u string) {
	endpoint := c.baseURL + "/writeDebuggerURL/?appName=" + url.QueryEscape(c.appName)
	resp, err := c.http.Post(endpoint, "text/plain", bytes.NewBufferString(u))
	if err != nil {
		logging.Errorf("%v posting debugger URL: %v", c.logPrefix, err)
		return
	}
	resp.Body.Close()
	logging.Infof("%v debugger URL posted", c.logPrefix)
}
