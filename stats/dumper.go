package stats

import (
	"path/filepath"
	"time"

	"github.com/couchbase/logstats/logstats"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/logging"
)

const (
	dumpStatsFileSize  = 8 * 1024 * 1024
	dumpStatsFileCount = 4
)

// gen-server commands
const (
	dumpCmdDumpNow byte = iota + 1
	dumpCmdClose
)

// Dumper periodically writes the execution and failure stat blocks to a
// rotating file under the diagnostics directory, so a worker that dies
// leaves its last counters behind for support. Runs as a gen-server:
// the periodic tick and the synchronous DumpNow/Close commands are
// served by one loop.
type Dumper struct {
	ls      logstats.LogStats
	metrics *Metrics
	queues  func() (size, memory int64)

	reqch chan []interface{}
	finch chan bool
}

// NewDumper opens (or creates) the stats file and spawns the dump loop.
// queues supplies the aggregated queue gauges at dump time.
func NewDumper(diagDir, appName string, m *Metrics,
	queues func() (int64, int64), interval time.Duration) (*Dumper, error) {

	fname := filepath.Join(diagDir, appName+"_stats.log")
	ls, err := logstats.NewLogStats(fname, dumpStatsFileSize, dumpStatsFileCount, "2006-01-02T15:04:05Z")
	if err != nil {
		return nil, err
	}
	d := &Dumper{
		ls:      ls,
		metrics: m,
		queues:  queues,
		reqch:   make(chan []interface{}, common.GenserverChannelSize),
		finch:   make(chan bool),
	}
	go d.run(interval)
	return d, nil
}

// DumpNow writes one dump outside the periodic cadence, synchronous
// call.
func (d *Dumper) DumpNow() error {
	respch := make(chan []interface{}, 1)
	cmd := []interface{}{dumpCmdDumpNow, respch}
	resp, err := common.FailsafeOp(d.reqch, respch, cmd, d.finch)
	return common.OpError(err, resp, 0)
}

// Close writes a final dump and stops the loop, synchronous call.
func (d *Dumper) Close() error {
	respch := make(chan []interface{}, 1)
	cmd := []interface{}{dumpCmdClose, respch}
	resp, err := common.FailsafeOp(d.reqch, respch, cmd, d.finch)
	return common.OpError(err, resp, 0)
}

func (d *Dumper) run(interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if err := d.dump(); err != nil {
				logging.Warnf("Dumper periodic write failed: %v", err)
			}

		case msg := <-d.reqch:
			switch msg[0].(byte) {
			case dumpCmdDumpNow:
				respch := msg[1].(chan []interface{})
				respch <- []interface{}{d.dump()}

			case dumpCmdClose:
				respch := msg[1].(chan []interface{})
				err := d.dump()
				close(d.finch)
				respch <- []interface{}{err}
				return
			}
		}
	}
}

func (d *Dumper) dump() error {
	size, memory := d.queues()
	execStats, _ := decode(d.metrics.ExecutionStats(size, memory))
	failStats, _ := decode(d.metrics.FailureStats())
	if err := d.ls.Write("ExecutionStats", execStats); err != nil {
		return err
	}
	return d.ls.Write("FailureStats", failStats)
}

func decode(s string) (map[string]interface{}, error) {
	st, err := common.NewStatistics(s)
	return st.ToMap(), err
}
