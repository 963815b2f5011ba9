package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDeployment(t *testing.T) {
	cfg, err := ParseDeployment(`{
		"source_bucket": "default",
		"metadata_bucket": "eventing",
		"buckets": [
			{"alias": "dst", "bucket_name": "target", "access": "rw"}
		]
	}`)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.SourceBucket)
	require.Equal(t, "eventing", cfg.MetadataBucket)
	require.Len(t, cfg.Buckets, 1)
	require.Equal(t, "dst", cfg.Buckets[0].Alias)
}

func TestParseDeploymentRejectsIncomplete(t *testing.T) {
	_, err := ParseDeployment(`{"metadata_bucket":"eventing"}`)
	require.Error(t, err)

	_, err = ParseDeployment(`{"source_bucket":"default"}`)
	require.Error(t, err)

	_, err = ParseDeployment(`not json`)
	require.Error(t, err)
}

func TestMessageSize(t *testing.T) {
	m := &Message{
		Header:  Header{Metadata: "0123456789"},
		Payload: []byte("abcde"),
	}
	require.Equal(t, int64(4+10+5), m.Size())
}
