package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriter(&buf)
	defer SetLogWriter(os.Stderr)

	SetLogLevel(Info)
	Debugf("hidden %v", 1)
	Infof("visible %v", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug message leaked at Info level")
	}
	if !strings.Contains(out, "visible 2") {
		t.Fatalf("info message missing: %q", out)
	}
}

func TestLevelParsing(t *testing.T) {
	cases := map[string]LogLevel{
		"TRACE": Trace, "debug": Debug, "Info": Info,
		"WARN": Warn, "error": Error, "bogus": Info,
	}
	for in, want := range cases {
		if got := Level(in); got != want {
			t.Fatalf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
