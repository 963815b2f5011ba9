// Package vm is the boundary to the embedded JavaScript engine. The
// worker owns exactly one Engine per thread for the thread's lifetime;
// every cross-thread interaction goes through the worker's queue, never
// through the engine handle. Host objects reach the engine as the Go
// interface values and functions held in Bindings; there is no
// integer-keyed handle table.
package vm

import (
	"errors"

	"github.com/couchbase/eventing-consumer/common"
)

// Result of one callback invocation.
type Result int

const (
	// Success - callback returned normally.
	Success Result = iota
	// Failure - callback threw; the rendered stack was logged.
	Failure
	// Terminated - the watchdog killed the invocation mid-flight.
	Terminated
	// NoHandler - the script does not export this callback.
	NoHandler
)

// ErrorNoEngine is returned when no engine implementation is linked in.
var ErrorNoEngine = errors.New("vm.noEngine")

// Bindings are the globals installed into the engine before the first
// event dispatch: log, the bucket accessor and the N1QL helper.
type Bindings struct {
	Log    func(args ...interface{})
	Bucket BucketAPI
	Query  QueryAPI
	// CreateTimer is called back by user script; the worker persists it.
	CreateTimer func(callback string, epoch int64, ref, context string) error
}

// BucketAPI is the document surface exposed to user code.
type BucketAPI interface {
	Get(alias, key string) (value string, err error)
	Set(alias, key, value string) error
	Delete(alias, key string) error
}

// QueryAPI runs N1QL statements for user code.
type QueryAPI interface {
	Query(statement string, args []interface{}) ([]string, error)
}

// Engine is one JavaScript isolate plus its context.
type Engine interface {
	// Load compiles and runs the handler source, resolving the
	// OnUpdate/OnDelete exports.
	Load(script string) error

	// InstallBindings installs the user-visible globals. Must happen
	// before the first invocation.
	InstallBindings(b Bindings)

	OnUpdate(value, meta string) Result
	OnDelete(meta string) Result
	FireTimer(callback, context string) Result

	// Compile type-checks source without running it and reports the
	// compilation record as JSON.
	Compile(script string) string

	// TerminateExecution aborts the running invocation from another
	// thread. The invocation reports Terminated.
	TerminateExecution()

	StartDebugger(port string, onURL func(url string)) error
	StopDebugger() error

	Close()
}

// Factory builds an Engine for a handler. The real engine binding
// registers itself here at link time; without one the null engine keeps
// the worker serving control traffic so the controller can observe the
// failure.
var Factory func(cfg *common.HandlerConfig, settings *common.ServerSettings) (Engine, error)

// NewEngine dispatches to the registered factory.
func NewEngine(cfg *common.HandlerConfig, settings *common.ServerSettings) (Engine, error) {
	if Factory != nil {
		return Factory(cfg, settings)
	}
	return &nullEngine{}, ErrorNoEngine
}

// nullEngine accepts lifecycle calls and reports NoHandler for every
// invocation.
type nullEngine struct{}

func (e *nullEngine) Load(string) error               { return ErrorNoEngine }
func (e *nullEngine) InstallBindings(Bindings)        {}
func (e *nullEngine) OnUpdate(string, string) Result  { return NoHandler }
func (e *nullEngine) OnDelete(string) Result          { return NoHandler }
func (e *nullEngine) FireTimer(string, string) Result { return NoHandler }
func (e *nullEngine) TerminateExecution()             {}
func (e *nullEngine) StopDebugger() error             { return ErrorNoEngine }
func (e *nullEngine) Close()                          {}

func (e *nullEngine) Compile(string) string {
	return `{"compile_success":false,"description":"no engine linked"}`
}

func (e *nullEngine) StartDebugger(string, func(string)) error {
	return ErrorNoEngine
}
