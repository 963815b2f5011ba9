package appworker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/couchbase/eventing-consumer/comm"
	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/payload"
	"github.com/couchbase/eventing-consumer/logging"
	"github.com/couchbase/eventing-consumer/shim"
	"github.com/couchbase/eventing-consumer/stats"
	"github.com/couchbase/eventing-consumer/timer"
	"github.com/couchbase/eventing-consumer/transport"
	"github.com/couchbase/eventing-consumer/v8worker"
	"github.com/couchbase/eventing-consumer/vm"
)

// RouteMessage dispatches one inbound frame. Runs on the main reactor
// goroutine, which exclusively owns the routing tables.
func (a *AppWorker) RouteMessage(msg *common.Message) {
	stats.Incr(&a.metrics.MessagesParsed)
	logging.Tracef("%v inbound %v", a.logPrefix, msg)

	switch msg.Header.Event {
	case common.EventV8Worker:
		a.routeV8Worker(msg)
	case common.EventDCP:
		a.routeDCP(msg)
	case common.EventFilter:
		a.routeFilter(msg)
	case common.EventAppWorkerSetting:
		a.routeSetting(msg)
	case common.EventDebugger:
		a.routeDebugger(msg)
	default:
		logging.Errorf("%v unknown event %v", a.logPrefix, msg.Header.Event)
	}
}

func (a *AppWorker) routeV8Worker(msg *common.Message) {
	switch common.V8WorkerOpcode(msg.Header.Opcode) {
	case common.V8OpInit, common.V8OpDispose:
		a.handleInit(msg)
		a.msgPriority = true

	case common.V8OpLoad:
		for i := 0; i < a.thrCount; i++ {
			if w := a.worker(i); w != nil {
				w.PushBack(msg)
				logging.Infof("%v load forwarded to worker %v", a.logPrefix, i)
			}
		}
		a.msgPriority = true

	case common.V8OpTerminate:
		go a.Stop()

	case common.V8OpGetLatencyStats:
		a.setResponse(common.RespV8WorkerConfig, common.RespOpLatencyStats,
			a.metrics.LatencyStats())

	case common.V8OpGetFailureStats:
		a.setResponse(common.RespV8WorkerConfig, common.RespOpFailureStats,
			a.metrics.FailureStats())

	case common.V8OpGetExecutionStats:
		size, memory := a.aggQueueStats()
		a.setResponse(common.RespV8WorkerConfig, common.RespOpExecutionStats,
			a.metrics.ExecutionStats(size, memory))

	case common.V8OpGetCompileInfo:
		info := `{"compile_success":false,"description":"not initialized"}`
		if a.compileEngine != nil {
			info = a.compileEngine.Compile(msg.Header.Metadata)
		}
		a.setResponse(common.RespV8WorkerConfig, common.RespOpCompileInfo, info)

	case common.V8OpGetLcbExceptions:
		a.setResponse(common.RespV8WorkerConfig, common.RespOpLcbExceptions,
			a.metrics.LcbExceptionStats())

	default:
		logging.Errorf("%v opcode %v not implemented for V8Worker",
			a.logPrefix, msg.Header.Opcode)
		stats.Incr(&a.metrics.V8WorkerEventsLost)
	}
}

func (a *AppWorker) routeDCP(msg *common.Message) {
	wid, ok := a.partitionThrMap[msg.Header.Partition]
	w := a.worker(wid)
	if !ok || w == nil {
		switch common.DCPOpcode(msg.Header.Opcode) {
		case common.DCPOpDelete:
			stats.Incr(&a.metrics.DeleteEventsLost)
		default:
			stats.Incr(&a.metrics.MutationEventsLost)
		}
		logging.Errorf("%v event lost, no worker for partition %v",
			a.logPrefix, msg.Header.Partition)
		return
	}

	switch common.DCPOpcode(msg.Header.Opcode) {
	case common.DCPOpDelete:
		stats.Incr(&a.metrics.EnqueuedDcpDeleteMsgCounter)
		w.PushBack(msg)
	case common.DCPOpMutation:
		stats.Incr(&a.metrics.EnqueuedDcpMutationMsgCounter)
		w.PushBack(msg)
	default:
		logging.Errorf("%v opcode %v not implemented for DCP",
			a.logPrefix, msg.Header.Opcode)
		stats.Incr(&a.metrics.DcpEventsLost)
	}
}

func (a *AppWorker) routeFilter(msg *common.Message) {
	wid, ok := a.partitionThrMap[msg.Header.Partition]
	w := a.worker(wid)
	if !ok || w == nil {
		logging.Errorf("%v filter event lost, no worker for partition %v",
			a.logPrefix, msg.Header.Partition)
		return
	}

	switch common.FilterOpcode(msg.Header.Opcode) {
	case common.FilterOpVbFilter:
		meta := &common.FilterMeta{}
		if err := json.Unmarshal([]byte(msg.Header.Metadata), meta); err != nil {
			logging.Errorf("%v bad vb-filter metadata: %v", a.logPrefix, err)
			return
		}
		lastProcessed := w.HandleVbFilter(meta.Vb, meta.SeqNo)
		a.sendFilterAck(meta.Vb, lastProcessed, meta.SkipAck)

	case common.FilterOpProcessedSeqNo:
		w.PushBack(msg)

	default:
		logging.Errorf("%v opcode %v not implemented for Filter",
			a.logPrefix, msg.Header.Opcode)
		stats.Incr(&a.metrics.DcpEventsLost)
	}
}

func (a *AppWorker) routeSetting(msg *common.Message) {
	switch common.AppWorkerSettingOpcode(msg.Header.Opcode) {
	case common.SettingOpLogLevel:
		logging.SetLogLevel(logging.Level(msg.Header.Metadata))
		logging.Infof("%v configured log level %q", a.logPrefix, msg.Header.Metadata)
		a.msgPriority = true

	case common.SettingOpWorkerThreadCount:
		n, err := strconv.Atoi(msg.Header.Metadata)
		if err != nil || n <= 0 {
			logging.Errorf("%v bad thread count %q", a.logPrefix, msg.Header.Metadata)
			return
		}
		if a.workerCount() > 0 {
			logging.Warnf("%v thread count change after Init ignored", a.logPrefix)
			return
		}
		a.thrCount = n
		logging.Infof("%v worker thread count %v", a.logPrefix, n)
		a.msgPriority = true

	case common.SettingOpWorkerThreadMap:
		a.handleThreadMap(msg)
		a.msgPriority = true

	case common.SettingOpTimerContextSize:
		n, err := strconv.ParseInt(msg.Header.Metadata, 10, 64)
		if err != nil {
			logging.Errorf("%v bad timer context size %q", a.logPrefix, msg.Header.Metadata)
			return
		}
		for _, w := range a.workerSlots() {
			w.SetTimerContextSize(n)
		}
		logging.Infof("%v timer context size %v", a.logPrefix, n)
		a.msgPriority = true

	case common.SettingOpVbMap:
		a.handleVbMap(msg)

	default:
		logging.Errorf("%v opcode %v not implemented for AppWorkerSetting",
			a.logPrefix, msg.Header.Opcode)
		stats.Incr(&a.metrics.AppWorkerSettingEventsLost)
	}
}

func (a *AppWorker) routeDebugger(msg *common.Message) {
	wid, ok := a.partitionThrMap[msg.Header.Partition]
	w := a.worker(wid)
	if !ok || w == nil {
		logging.Errorf("%v debugger event lost, no worker for partition %v",
			a.logPrefix, msg.Header.Partition)
		stats.Incr(&a.metrics.DebuggerEventsLost)
		return
	}
	w.PushBack(msg)
	a.msgPriority = true
}

// handleThreadMap installs the immutable vbucket-to-worker routing.
func (a *AppWorker) handleThreadMap(msg *common.Message) {
	if len(msg.Payload) == 0 || !transport.VerifyTable(msg.Payload) {
		logging.Errorf("%v thread map payload corrupt", a.logPrefix)
		stats.Incr(&a.metrics.AppWorkerSettingEventsLost)
		return
	}
	p := payload.GetRootAsPayload(msg.Payload, 0)
	entry := &payload.VbsThreadMap{}
	for i := 0; i < p.ThrMapLength(); i++ {
		if !p.ThrMap(entry, i) {
			continue
		}
		tid := int(entry.ThreadID())
		for j := 0; j < entry.PartitionsLength(); j++ {
			a.partitionThrMap[int16(entry.Partitions(j))] = tid
		}
	}
	logging.Infof("%v thread map installed, %v partitions over %v threads",
		a.logPrefix, len(a.partitionThrMap), p.ThrMapLength())
}

// handleVbMap recomputes each worker's owned partition set and kicks
// the timer span managers through the priority lane.
func (a *AppWorker) handleVbMap(msg *common.Message) {
	if !a.usingTimer {
		return
	}
	if len(msg.Payload) == 0 || !transport.VerifyTable(msg.Payload) {
		logging.Errorf("%v vb map payload corrupt", a.logPrefix)
		stats.Incr(&a.metrics.AppWorkerSettingEventsLost)
		return
	}
	p := payload.GetRootAsPayload(msg.Payload, 0)
	vbuckets := make([]int64, 0, p.VbMapLength())
	for i := 0; i < p.VbMapLength(); i++ {
		vbuckets = append(vbuckets, p.VbMap(i))
	}

	perWorker := a.partitionVbuckets(vbuckets)
	a.workersMu.RLock()
	defer a.workersMu.RUnlock()
	for wid, w := range a.workers {
		update := &common.Message{
			Header: common.Header{
				Event:  common.EventInternal,
				Opcode: int8(common.InternalOpUpdateVbMap),
			},
			Payload: payload.BuildVbMap(perWorker[wid]),
		}
		w.PushFront(update)
	}
	logging.Infof("%v vbucket map updated, %v vbuckets", a.logPrefix, len(vbuckets))
}

// partitionVbuckets splits an owned vbucket list per worker using the
// routing table.
func (a *AppWorker) partitionVbuckets(vbuckets []int64) map[int][]int64 {
	out := make(map[int][]int64, a.thrCount)
	for _, vb := range vbuckets {
		if wid, ok := a.partitionThrMap[int16(vb)]; ok {
			out[wid] = append(out[wid], vb)
		}
	}
	return out
}

// sendFilterAck queues the handoff acknowledgement for the next flush.
func (a *AppWorker) sendFilterAck(vb uint16, seqNo uint64, skipAck bool) {
	ack := fmt.Sprintf(`{"vb":%d, "seq":%d, "skip_ack":%v}`, vb, seqNo, skipAck)
	a.setResponse(common.RespFilterAck, common.RespOpVbFilterAck, ack)
	logging.Infof("%v filter ack vb:%v seq:%v skip_ack:%v", a.logPrefix, vb, seqNo, skipAck)
}

// setResponse stages an ad-hoc response and requests an immediate flush.
func (a *AppWorker) setResponse(msgType common.RespMsgType, opcode common.RespOpcode, msg string) {
	a.pendingResp = &respMsg{msgType: msgType, opcode: opcode, msg: msg}
	a.msgPriority = true
}

// maybeFlush runs on every main-stream read boundary: emit the pending
// response plus a queue-depth snapshot when a batch completed or a
// control operation demanded priority. Both triggers firing in one tick
// produce a single flush.
func (a *AppWorker) maybeFlush() {
	processed := a.processedCount()
	batchDone := a.cfg.BatchSize > 0 && processed-a.lastFlushCount >= int64(a.cfg.BatchSize)
	if !batchDone && !a.msgPriority {
		return
	}
	a.lastFlushCount = processed
	a.msgPriority = false

	if a.pendingResp != nil {
		frame := transport.EncodeResponse(
			a.pendingResp.msgType, a.pendingResp.opcode, a.pendingResp.msg)
		a.flushToConn(a.mainConn, frame)
		a.pendingResp = nil
	}

	if a.workerCount() > 0 {
		size, memory := a.aggQueueStats()
		st := common.Statistics{
			"agg_queue_size":        size,
			"feedback_queue_size":   0,
			"agg_queue_memory":      memory,
			"processed_events_size": stats.Load(&a.metrics.ProcessedEventsSize),
		}
		data, _ := st.Encode()
		frame := transport.EncodeResponse(
			common.RespV8WorkerConfig, common.RespOpQueueSize, string(data))
		a.flushToConn(a.mainConn, frame)
	}
}

// handleInit decodes the Init payload, builds the worker slots and their
// engines, and brings up the supporting services.
func (a *AppWorker) handleInit(msg *common.Message) {
	if a.workerCount() > 0 {
		logging.Warnf("%v duplicate Init ignored", a.logPrefix)
		return
	}
	if len(msg.Payload) == 0 || !transport.VerifyTable(msg.Payload) {
		logging.Errorf("%v Init payload corrupt", a.logPrefix)
		stats.Incr(&a.metrics.V8WorkerEventsLost)
		return
	}
	p := payload.GetRootAsPayload(msg.Payload, 0)

	hc := &common.HandlerConfig{
		AppName:          string(p.AppName()),
		DepCfg:           string(p.Depcfg()),
		ExecutionTimeout: int(p.ExecutionTimeout()),
		LcbInstCapacity:  int(p.LcbInstCapacity()),
		UsingTimer:       p.UsingTimer(),
		TimerContextSize: p.TimerContextSize(),
	}
	for i := 0; i < p.HandlerHeadersLength(); i++ {
		hc.HandlerHeaders = append(hc.HandlerHeaders, string(p.HandlerHeaders(i)))
	}
	for i := 0; i < p.HandlerFootersLength(); i++ {
		hc.HandlerFooters = append(hc.HandlerFooters, string(p.HandlerFooters(i)))
	}
	ss := &common.ServerSettings{
		CheckpointInterval: int(p.CheckpointInterval()),
		DebuggerPort:       string(p.DebuggerPort()),
		EventingDir:        string(p.EventingDir()),
		EventingPort:       string(p.CurrEventingPort()),
		HostAddr:           string(p.CurrHost()),
		KvHostPort:         string(p.KvHostPort()),
		FunctionInstanceID: string(p.FunctionInstanceID()),
	}
	a.handlerConfig, a.serverSettings = hc, ss
	a.usingTimer = hc.UsingTimer
	if ss.CheckpointInterval > 0 {
		a.checkpointInterval.Store(int64(time.Duration(ss.CheckpointInterval) * time.Millisecond))
	}

	logging.Infof("%v Init app:%v execution_timeout:%v checkpoint_interval:%vms"+
		" using_timer:%v timer_context_size:%v kv:%v",
		a.logPrefix, hc.AppName, hc.ExecutionTimeout, ss.CheckpointInterval,
		hc.UsingTimer, hc.TimerContextSize, ss.KvHostPort)

	depCfg, err := common.ParseDeployment(hc.DepCfg)
	if err != nil {
		// Fatal for the engines; the worker keeps serving control
		// traffic so the controller can observe the failure.
		logging.Fatalf("%v %v", a.logPrefix, err)
	} else {
		a.depCfg = depCfg
	}

	a.supervisor = comm.NewClient(ss.HostAddr, ss.EventingPort, hc.AppName)
	if eng, cerr := vm.NewEngine(hc, ss); cerr != nil {
		logging.Warnf("%v compile engine unavailable: %v", a.logPrefix, cerr)
	} else {
		a.compileEngine = eng
	}

	a.spawnWorkers(hc, ss)
	a.startDumper()
	a.startTimerScanner()
}

// connectCluster opens one worker's KV connection, used by its timer
// store and its bucket shim. A failure leaves those services disabled
// while control traffic continues.
func (a *AppWorker) connectCluster(ss *common.ServerSettings) *gocb.Cluster {
	if a.depCfg == nil || ss.KvHostPort == "" {
		return nil
	}
	host := ss.KvHostPort
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	var auth gocb.Authenticator
	if creds, err := a.supervisor.GetCredsCached(ss.KvHostPort); err == nil {
		auth = gocb.PasswordAuthenticator{
			Username: creds.Username, Password: creds.Password,
		}
	} else {
		logging.Errorf("%v credentials for %q: %v", a.logPrefix, ss.KvHostPort, err)
		return nil
	}

	cluster, err := gocb.Connect("couchbase://"+host, gocb.ClusterOptions{
		Authenticator: auth,
	})
	if err != nil {
		logging.Errorf("%v cluster connect: %v", a.logPrefix, err)
		return nil
	}
	return cluster
}

func (a *AppWorker) spawnWorkers(hc *common.HandlerConfig, ss *common.ServerSettings) {
	timerPrefix := fmt.Sprintf("%s::%s", a.cfg.UserPrefix, a.cfg.FunctionID)

	for i := 0; i < a.thrCount; i++ {
		engine, err := vm.NewEngine(hc, ss)
		if err != nil {
			logging.Fatalf("%v engine init for worker %v: %v", a.logPrefix, i, err)
		}

		cluster := a.connectCluster(ss)

		var timers *timer.Store
		var bindings vm.Bindings
		if cluster != nil {
			if a.usingTimer && a.depCfg != nil {
				bucket := cluster.Bucket(a.depCfg.MetadataBucket)
				timers = timer.NewStore(bucket, timerPrefix, nil, a.metrics, i)
			}
			if sh, serr := shim.NewShim(cluster, a.depCfg, a.metrics, i); serr != nil {
				logging.Errorf("%v bucket shim for worker %v: %v", a.logPrefix, i, serr)
			} else {
				bindings.Bucket, bindings.Query = sh, sh
			}
		}

		w := v8worker.NewWorker(v8worker.Config{
			ID:               i,
			QueueByteBudget:  queueByteBudget,
			ExecutionTimeout: time.Duration(hc.ExecutionTimeout) * time.Second,
			TimerContextSize: hc.TimerContextSize,
			DebuggerPort:     ss.DebuggerPort,
			OnDebugURL:       a.onDebugURL,
		}, engine, timers, a.metrics)

		bindings.Log = func(args ...interface{}) {
			logging.Infof("%v [js] %v", a.logPrefix, fmt.Sprintln(args...))
		}
		bindings.CreateTimer = w.CreateTimer
		engine.InstallBindings(bindings)

		a.workersMu.Lock()
		a.workers[i] = w
		a.workersMu.Unlock()
		logging.Infof("%v Init index: %v worker spawned", a.logPrefix, i)
	}
}

// onDebugURL publishes the debugger frontend URL both to the supervisor
// and beside the handler sources.
func (a *AppWorker) onDebugURL(u string) {
	if a.supervisor != nil {
		a.supervisor.WriteDebuggerURL(u)
	}
	if a.serverSettings != nil && a.serverSettings.EventingDir != "" {
		fname := filepath.Join(a.serverSettings.EventingDir,
			a.handlerConfig.AppName+"_frontend.url")
		if err := os.WriteFile(fname, []byte(u), 0644); err != nil {
			logging.Errorf("%v writing %q: %v", a.logPrefix, fname, err)
		}
	}
}

func (a *AppWorker) startDumper() {
	if a.dumper != nil || a.cfg.DiagDir == "" {
		return
	}
	d, err := stats.NewDumper(a.cfg.DiagDir, a.cfg.AppName, a.metrics,
		a.aggQueueStats, time.Minute)
	if err != nil {
		logging.Warnf("%v stats dumper: %v", a.logPrefix, err)
		return
	}
	a.dumper = d
}
