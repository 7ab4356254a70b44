package main

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIVersion(t *testing.T) {
	version = "test-version"
	buildTime = "2026-10-01"
	gitCommit = "abc123"

	output := captureOutput(printVersion)

	assert.Contains(t, output, "test-version")
	assert.Contains(t, output, "2026-10-01")
	assert.Contains(t, output, "abc123")
}

func TestCLIHelp(t *testing.T) {
	output := captureOutput(printUsage)

	for _, cmd := range []string{"fetch", "serve", "validate", "template", "version", "throughput"} {
		assert.Contains(t, output, cmd)
	}
}

// captureOutput captures stdout during function execution
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	f()
	w.Close()
	os.Stdout = old
	return <-outC
}
