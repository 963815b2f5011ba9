package common

import (
	"encoding/json"
	"fmt"
)

// HandlerConfig is everything the Init payload says about the deployed
// handler itself.
type HandlerConfig struct {
	AppName          string
	DepCfg           string
	ExecutionTimeout int // seconds
	LcbInstCapacity  int
	UsingTimer       bool
	TimerContextSize int64
	HandlerHeaders   []string
	HandlerFooters   []string
}

// ServerSettings is everything the Init payload says about the hosting
// environment.
type ServerSettings struct {
	CheckpointInterval int // milliseconds
	DebuggerPort       string
	EventingDir        string
	EventingPort       string
	HostAddr           string
	KvHostPort         string
	FunctionInstanceID string
}

// DeploymentConfig is the parsed depcfg JSON: which buckets the handler
// touches and under which aliases they surface in user code.
type DeploymentConfig struct {
	SourceBucket   string       `json:"source_bucket"`
	MetadataBucket string       `json:"metadata_bucket"`
	Buckets        []BucketInfo `json:"buckets"`
}

// BucketInfo is one bucket binding from depcfg.
type BucketInfo struct {
	Alias      string `json:"alias"`
	BucketName string `json:"bucket_name"`
	Access     string `json:"access"`
}

// ParseDeployment decodes a depcfg document.
func ParseDeployment(depcfg string) (*DeploymentConfig, error) {
	cfg := &DeploymentConfig{}
	if err := json.Unmarshal([]byte(depcfg), cfg); err != nil {
		return nil, fmt.Errorf("parsing depcfg: %v", err)
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("depcfg missing source_bucket")
	}
	if cfg.MetadataBucket == "" {
		return nil, fmt.Errorf("depcfg missing metadata_bucket")
	}
	return cfg, nil
}
