package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querydeps/internal/config"
	"github.com/hanpama/querydeps/internal/server"
)

func captureOutput(t *testing.T, fn func() error) (stdout, stderr string, err error) {
	t.Helper()
	oldOut, oldErr := os.Stdout, os.Stderr
	defer func() {
		os.Stdout, os.Stderr = oldOut, oldErr
	}()

	outR, outW, _ := os.Pipe()
	errR, errW, _ := os.Pipe()
	os.Stdout, os.Stderr = outW, errW

	doneOut := make(chan struct{})
	var bufOut bytes.Buffer
	go func() { io.Copy(&bufOut, outR); close(doneOut) }()

	doneErr := make(chan struct{})
	var bufErr bytes.Buffer
	go func() { io.Copy(&bufErr, errR); close(doneErr) }()

	err = fn()
	outW.Close()
	errW.Close()
	<-doneOut
	<-doneErr
	stdout, stderr = bufOut.String(), bufErr.String()
	return
}

var (
	schemaFile = filepath.Join("testdata", "schema.graphql")
	queryFile  = filepath.Join("testdata", "query.graphql")
)

func TestHelp(t *testing.T) {
	out, _, err := captureOutput(t, func() error {
		return run([]string{"help", "serve"})
	})
	require.NoError(t, err)
	require.Contains(t, out, "serve FLAGS")

	out, _, err = captureOutput(t, func() error {
		return run([]string{"help"})
	})
	require.NoError(t, err)
	require.Contains(t, out, "COMMANDS")

	_, _, err = captureOutput(t, func() error {
		return run([]string{"help", "nope"})
	})
	require.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	_, stderr, err := captureOutput(t, func() error {
		return run([]string{"explode"})
	})
	require.ErrorContains(t, err, "unknown command")
	require.Contains(t, stderr, "USAGE")

	_, _, err = captureOutput(t, func() error { return run(nil) })
	require.ErrorContains(t, err, "missing command")
}

// Pattern: Result comparison
func TestAnalyze_Text(t *testing.T) {
	out, _, err := captureOutput(t, func() error {
		return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile})
	})
	require.NoError(t, err)

	want := []string{
		"Query.dog: Dog -> ROOT",
		"Query.animals: [Animal] -> ROOT",
		"Cat.name: String -> Query.animals: [Animal] (conditional)",
		"Dog.name: String -> Query.animals: [Animal] (conditional)",
		"Dog.name: String -> Query.dog: Dog",
	}
	if diff := cmp.Diff(want, strings.Split(strings.TrimSpace(out), "\n")); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_Formats(t *testing.T) {
	t.Run("json with variables", func(t *testing.T) {
		out, _, err := captureOutput(t, func() error {
			return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile,
				"-variables", `{"withId": true}`, "-format", "json"})
		})
		require.NoError(t, err)
		var res server.AnalyzeResponse
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Vertices, 7)
		require.Equal(t, 0, res.Order[0])
		require.Len(t, res.Stages, 2)
	})

	t.Run("dot", func(t *testing.T) {
		out, _, err := captureOutput(t, func() error {
			return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile, "-format", "dot"})
		})
		require.NoError(t, err)
		require.Contains(t, out, "digraph")
		require.Contains(t, out, `label="ROOT"`)
	})

	t.Run("order", func(t *testing.T) {
		out, _, err := captureOutput(t, func() error {
			return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile, "-format", "order"})
		})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(out, "0\tROOT\n"), out)
	})

	t.Run("stages", func(t *testing.T) {
		out, _, err := captureOutput(t, func() error {
			return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile, "-format", "stages"})
		})
		require.NoError(t, err)
		require.Contains(t, out, "stage 1:")
		require.Contains(t, out, "stage 2:")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := captureOutput(t, func() error {
			return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile, "-format", "xml"})
		})
		require.ErrorContains(t, err, "unknown format")
	})
}

func TestAnalyze_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.graphql")
	require.NoError(t, os.WriteFile(bad, []byte(`{ animals { bark } }`), 0o644))

	_, _, err := captureOutput(t, func() error {
		return run([]string{"analyze", "-schema", schemaFile, "-query", bad})
	})
	require.ErrorContains(t, err, "bark")

	_, _, err = captureOutput(t, func() error {
		return run([]string{"analyze", "-schema", schemaFile})
	})
	require.ErrorContains(t, err, "required")

	_, _, err = captureOutput(t, func() error {
		return run([]string{"analyze", "-schema", schemaFile, "-query", queryFile, "-variables", `{"withId": "yes"}`, "-strict-variables"})
	})
	require.ErrorContains(t, err, "coerce variables")
}

func TestServeConfig(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "querydeps.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`schema: from-file.graphql
server:
  addr: ":9000"
  timeout: 3s
`), 0o644))

	cfg, err := serveConfig([]string{"-config", cfgFile, "-server.addr", ":9100", "-server.cors-origin", "*", "-validate=false"})
	require.NoError(t, err)
	require.Equal(t, "from-file.graphql", cfg.Schema)
	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, 3*time.Second, cfg.Server.Timeout)
	require.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	require.False(t, cfg.Validate)

	_, _, err = captureOutput(t, func() error {
		_, err := serveConfig(nil)
		return err
	})
	require.ErrorContains(t, err, "-schema is required")

	_, err = serveConfig([]string{"-schema", schemaFile, "-server.addr", "bogus"})
	require.ErrorContains(t, err, "server.addr")
}

func TestNewHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Schema = schemaFile
	cfg.StrictVariables = true
	cfg.Server.CORSOrigins = []string{"https://example.com"}
	h, err := newHandler(cfg, logr.Discard())
	require.NoError(t, err)
	require.NotNil(t, h)

	cfg.Schema = filepath.Join(t.TempDir(), "missing.graphql")
	_, err = newHandler(cfg, logr.Discard())
	require.ErrorContains(t, err, "read schema")
}
