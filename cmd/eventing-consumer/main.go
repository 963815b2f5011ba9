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

// eventing-consumer is spawned by the controller, one process per
// deployed handler worker, with positional arguments:
//
//	appname ipc_type port_or_uds feedback_port_or_uds worker_id
//	batch_size feedback_batch_size diag_dir ipv4|ipv6 breakpad_on
//	function_id [user_prefix]
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/couchbase/eventing-consumer/appworker"
	"github.com/couchbase/eventing-consumer/logging"
)

func main() {
	if len(os.Args) < 12 {
		fmt.Fprintln(os.Stderr,
			"Need at least 11 arguments: appname, ipc_type, port, feedback_port, "+
				"worker_id, batch_size, feedback_batch_size, diag_dir, ipv4/6, "+
				"breakpad_on, function_id")
		os.Exit(2)
	}

	appName := os.Args[1]
	ipcType := os.Args[2] // af_unix or af_inet
	workerID := os.Args[5]
	batchSize, _ := strconv.Atoi(os.Args[6])
	feedbackBatchSize, _ := strconv.Atoi(os.Args[7])
	diagDir := os.Args[8]
	ipv6 := os.Args[9] == "ipv6"
	breakpadOn := os.Args[10] == "true"
	functionID := os.Args[11]

	userPrefix := ""
	if len(os.Args) >= 13 {
		userPrefix = os.Args[12]
	}

	if breakpadOn {
		// Crash dump capture belongs to the platform; nothing to set up
		// beyond pointing at the diagnostics directory.
		logging.Infof("[main] crash dumps directed to %v", diagDir)
	}

	cfg := appworker.Config{
		AppName:           appName,
		WorkerID:          workerID,
		BatchSize:         batchSize,
		FeedbackBatchSize: feedbackBatchSize,
		DiagDir:           diagDir,
		FunctionID:        functionID,
		UserPrefix:        userPrefix,
	}

	var mainConn, feedbackConn net.Conn
	var err error
	if ipcType == "af_unix" {
		mainConn, feedbackConn, err = appworker.DialUDS(os.Args[3], os.Args[4])
	} else {
		var port, feedbackPort int
		if port, err = strconv.Atoi(os.Args[3]); err != nil {
			logging.Fatalf("[main] bad port %q: %v", os.Args[3], err)
			os.Exit(1)
		}
		if feedbackPort, err = strconv.Atoi(os.Args[4]); err != nil {
			logging.Fatalf("[main] bad feedback port %q: %v", os.Args[4], err)
			os.Exit(1)
		}
		mainConn, feedbackConn, err = appworker.Dial(localhost(ipv6), port, feedbackPort)
	}
	if err != nil {
		logging.Fatalf("[main] %v", err)
		os.Exit(1)
	}

	logging.Infof("[main] starting worker with %v for appname:%v worker id:%v"+
		" batch size:%v feedback batch size:%v",
		ipcType, appName, workerID, batchSize, feedbackBatchSize)

	worker := appworker.NewAppWorker(cfg, mainConn, feedbackConn)
	worker.Start()
	worker.StartStdinWatcher()
	worker.Wait()
}

func localhost(ipv6 bool) string {
	if ipv6 {
		return "::1"
	}
	return "127.0.0.1"
}
