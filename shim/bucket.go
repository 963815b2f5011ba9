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

// Package shim backs the bucket accessor and N1QL globals installed
// into user script. One shim per worker thread, wrapping that thread's
// private KV handle.
package shim

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/logging"
	"github.com/couchbase/eventing-consumer/stats"
)

// ErrorUnknownAlias means user code referenced a bucket binding missing
// from depcfg.
var ErrorUnknownAlias = errors.New("shim.unknownAlias")

const kvOpTimeout = 2500 * time.Millisecond

// Shim resolves depcfg aliases to collections and serves document and
// query operations. Implements vm.BucketAPI and vm.QueryAPI.
type Shim struct {
	cluster     *gocb.Cluster
	collections map[string]*gocb.Collection
	metrics     *stats.Metrics
	logPrefix   string
}

// NewShim opens the buckets bound in depcfg. The cluster connection is
// private to the calling worker thread.
func NewShim(cluster *gocb.Cluster, cfg *common.DeploymentConfig,
	metrics *stats.Metrics, workerID int) (*Shim, error) {

	s := &Shim{
		cluster:     cluster,
		collections: make(map[string]*gocb.Collection),
		metrics:     metrics,
		logPrefix:   fmt.Sprintf("[shim:%d]", workerID),
	}
	for _, bi := range cfg.Buckets {
		bucket := cluster.Bucket(bi.BucketName)
		if err := bucket.WaitUntilReady(kvOpTimeout, nil); err != nil {
			return nil, fmt.Errorf("bucket %q not ready: %v", bi.BucketName, err)
		}
		s.collections[bi.Alias] = bucket.DefaultCollection()
		logging.Infof("%v bound alias %q to bucket %q", s.logPrefix, bi.Alias, bi.BucketName)
	}
	return s, nil
}

// Get reads a document through a bound alias.
func (s *Shim) Get(alias, key string) (string, error) {
	coll, ok := s.collections[alias]
	if !ok {
		return "", ErrorUnknownAlias
	}
	res, err := coll.Get(key, &gocb.GetOptions{Timeout: kvOpTimeout})
	if err != nil {
		stats.Incr(&s.metrics.BucketOpExceptionCount)
		return "", err
	}
	var raw json.RawMessage
	if err := res.Content(&raw); err != nil {
		stats.Incr(&s.metrics.BucketOpExceptionCount)
		return "", err
	}
	return string(raw), nil
}

// Set upserts a document through a bound alias.
func (s *Shim) Set(alias, key, value string) error {
	coll, ok := s.collections[alias]
	if !ok {
		return ErrorUnknownAlias
	}
	_, err := coll.Upsert(key, value, &gocb.UpsertOptions{Timeout: kvOpTimeout})
	if err != nil {
		stats.Incr(&s.metrics.BucketOpExceptionCount)
	}
	return err
}

// Delete removes a document through a bound alias.
func (s *Shim) Delete(alias, key string) error {
	coll, ok := s.collections[alias]
	if !ok {
		return ErrorUnknownAlias
	}
	_, err := coll.Remove(key, &gocb.RemoveOptions{Timeout: kvOpTimeout})
	if err != nil && !errors.Is(err, gocb.ErrDocumentNotFound) {
		stats.Incr(&s.metrics.BucketOpExceptionCount)
		return err
	}
	return nil
}

// Query runs a N1QL statement and returns each row as JSON text.
func (s *Shim) Query(statement string, args []interface{}) ([]string, error) {
	res, err := s.cluster.Query(statement, &gocb.QueryOptions{
		PositionalParameters: args,
		Timeout:              kvOpTimeout,
	})
	if err != nil {
		stats.Incr(&s.metrics.N1qlOpExceptionCount)
		return nil, err
	}
	defer res.Close()

	var rows []string
	for res.Next() {
		var raw json.RawMessage
		if err := res.Row(&raw); err != nil {
			stats.Incr(&s.metrics.N1qlOpExceptionCount)
			return rows, err
		}
		rows = append(rows, string(raw))
	}
	if err := res.Err(); err != nil {
		stats.Incr(&s.metrics.N1qlOpExceptionCount)
		return rows, err
	}
	return rows, nil
}
