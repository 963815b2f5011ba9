// Copyright (c) 2019 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an "AS IS"
// BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing
// permissions and limitations under the License.

package timer

import "fmt"

// Event is one scheduled callback, persisted keyed by
// {prefix, partition, alarm time, reference}.
type Event struct {
	AlarmTime  int64  `json:"epoch"`
	Reference  string `json:"reference"`
	Callback   string `json:"callback"`
	Context    string `json:"context,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
	Partition  int64  `json:"partition"`
	Vb         uint16 `json:"vb"`
	SeqNo      uint64 `json:"seq_num"`
}

// Span bounds the alarm times of every persisted event for a partition.
type Span struct {
	Start int64 `json:"start"`
	Stop  int64 `json:"stop"`
}

// index is the per-second document enumerating refs due at one instant.
type index struct {
	Refs []string `json:"refs"`
}

func rootKey(prefix string, partition int64) string {
	return fmt.Sprintf("%s::%d::root", prefix, partition)
}

func spanKey(prefix string, partition int64) string {
	return fmt.Sprintf("%s::%d::span", prefix, partition)
}

func eventKey(prefix string, partition, alarm int64, ref string) string {
	return fmt.Sprintf("%s::%d::%d::%s", prefix, partition, alarm, ref)
}

func indexKey(prefix string, partition, alarm int64) string {
	return fmt.Sprintf("%s::%d::%d", prefix, partition, alarm)
}
