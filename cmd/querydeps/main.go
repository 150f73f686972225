package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/hanpama/querydeps/internal/analysis"
	"github.com/hanpama/querydeps/internal/config"
	"github.com/hanpama/querydeps/internal/eventbus"
	"github.com/hanpama/querydeps/internal/language"
	"github.com/hanpama/querydeps/internal/otel"
	"github.com/hanpama/querydeps/internal/schema"
	"github.com/hanpama/querydeps/internal/server"
)

const rootUsage = `querydeps: GraphQL field dependency analysis

USAGE:
  querydeps <command> [flags]

COMMANDS:
  analyze          Print the dependency graph of one query document
  serve            Run the HTTP analysis service
  help             Show help for any command
`

const analyzeUsage = `analyze FLAGS:
  -schema <file>             GraphQL SDL file (required)
  -query <file>              Query document; "-" reads stdin (required)
  -variables <json>          Variable values as a JSON object
  -validate <bool>           Validate the document first (default: true)
  -strict-variables          Fail when variables cannot be coerced
  -format <name>             text, json, dot, order or stages (default: text)
  -v <level>                 Log verbosity (default: 0)
`

const serveUsage = `serve FLAGS:
  -config <file>                   YAML configuration file
  -schema <file>                   GraphQL SDL file (required here or in config)
  -validate <bool>                 Default for requests without "validate" (default: true)
  -strict-variables                Fail requests whose variables cannot be coerced
  -server.addr <addr>              HTTP listen address (default: :8080)
  -server.pretty                   Pretty-print JSON responses
  -server.timeout <duration>       Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes <n>       Request body limit (default: 1048576)
  -server.batch-concurrency <n>    Batch items analysed at once (default: GOMAXPROCS)
  -server.cors-origin <origin>     Allowed CORS origin. Repeatable
  -otel.endpoint <addr>            OTLP collector endpoint
  -otel.service <name>             OpenTelemetry service name (default: querydeps)
  -v <level>                       Log verbosity (default: 0)

Flags given explicitly override values from -config.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("querydeps", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		// print usage on parse error
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "analyze":
		return cmdAnalyze(cmdArgs)
	case "serve":
		return cmdServe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "analyze":
		fmt.Print(analyzeUsage)
	case "serve":
		fmt.Print(serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func newLogger(verbosity int) logr.Logger {
	stdr.SetVerbosity(verbosity)
	return stdr.New(log.New(os.Stderr, "querydeps ", log.LstdFlags))
}

func loadSchema(path string) (*schema.Schema, error) {
	sdl, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	sch, err := schema.BuildFromNamedSDL(path, string(sdl))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}

func cmdAnalyze(args []string) error {
	schemaFile := ""
	queryFile := ""
	variablesJSON := ""
	validate := true
	strict := false
	format := "text"
	verbosity := 0

	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL file")
	fs.StringVar(&queryFile, "query", queryFile, "Query document")
	fs.StringVar(&variablesJSON, "variables", variablesJSON, "Variable values as JSON")
	fs.BoolVar(&validate, "validate", validate, "Validate the document first")
	fs.BoolVar(&strict, "strict-variables", strict, "Fail when variables cannot be coerced")
	fs.StringVar(&format, "format", format, "Output format")
	fs.IntVar(&verbosity, "v", verbosity, "Log verbosity")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, analyzeUsage)
		return err
	}
	if schemaFile == "" || queryFile == "" {
		fmt.Fprint(os.Stderr, analyzeUsage)
		return fmt.Errorf("-schema and -query are required")
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}
	var query []byte
	if queryFile == "-" {
		query, err = io.ReadAll(os.Stdin)
	} else {
		query, err = os.ReadFile(queryFile)
	}
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	var variables map[string]any
	if variablesJSON != "" {
		if err := json.Unmarshal([]byte(variablesJSON), &variables); err != nil {
			return fmt.Errorf("parse -variables: %w", err)
		}
	}

	doc, err := language.ParseQuery(string(query))
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}
	opts := []analysis.Option{analysis.WithLogger(newLogger(verbosity))}
	if strict {
		opts = append(opts, analysis.WithStrictVariables())
	}
	root, err := analysis.New(sch, opts...).Analyze(doc, variables, validate)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return printResult(os.Stdout, format, root, xxhash.Sum64(query))
}

func printResult(w io.Writer, format string, root *analysis.Vertex, hash uint64) error {
	switch format {
	case "text":
		_, edges := analysis.PrintGraph(root)
		for _, e := range edges {
			suffix := ""
			if e.Conditional {
				suffix = " (conditional)"
			}
			fmt.Fprintf(w, "%s%s\n", e, suffix)
		}
		return nil
	case "json":
		res, err := server.NewAnalyzeResponse(root, hash)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "dot":
		return analysis.WriteDOT(root, w)
	case "order":
		order, err := analysis.ExecutionOrder(root)
		if err != nil {
			return err
		}
		for _, v := range order {
			fmt.Fprintf(w, "%d\t%s\n", v.ID, v)
		}
		return nil
	case "stages":
		for i, stage := range analysis.Stages(root) {
			fmt.Fprintf(w, "stage %d:\n", i+1)
			for _, v := range stage {
				fmt.Fprintf(w, "  %d\t%s\n", v.ID, v)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// serveConfig resolves the serve configuration: defaults or -config, then
// every flag set explicitly on the command line.
func serveConfig(args []string) (*config.Config, error) {
	var (
		configFile  string
		corsOrigins stringListFlag
		flagCfg     = config.Default()
	)
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configFile, "config", "", "YAML configuration file")
	fs.StringVar(&flagCfg.Schema, "schema", flagCfg.Schema, "GraphQL SDL file")
	fs.BoolVar(&flagCfg.Validate, "validate", flagCfg.Validate, "Default validation")
	fs.BoolVar(&flagCfg.StrictVariables, "strict-variables", flagCfg.StrictVariables, "Strict variables")
	fs.StringVar(&flagCfg.Server.Addr, "server.addr", flagCfg.Server.Addr, "HTTP listen address")
	fs.BoolVar(&flagCfg.Server.Pretty, "server.pretty", flagCfg.Server.Pretty, "Pretty-print JSON responses")
	fs.DurationVar(&flagCfg.Server.Timeout, "server.timeout", flagCfg.Server.Timeout, "Per-request timeout")
	fs.Int64Var(&flagCfg.Server.MaxBodyBytes, "server.max-body-bytes", flagCfg.Server.MaxBodyBytes, "Request body limit")
	fs.IntVar(&flagCfg.Server.BatchConcurrency, "server.batch-concurrency", flagCfg.Server.BatchConcurrency, "Batch concurrency")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.StringVar(&flagCfg.Otel.Endpoint, "otel.endpoint", flagCfg.Otel.Endpoint, "OTLP collector endpoint")
	fs.StringVar(&flagCfg.Otel.Service, "otel.service", flagCfg.Otel.Service, "OpenTelemetry service name")
	fs.IntVar(&flagCfg.Log.Verbosity, "v", flagCfg.Log.Verbosity, "Log verbosity")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return nil, err
	}
	flagCfg.Server.CORSOrigins = corsOrigins

	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "schema":
			cfg.Schema = flagCfg.Schema
		case "validate":
			cfg.Validate = flagCfg.Validate
		case "strict-variables":
			cfg.StrictVariables = flagCfg.StrictVariables
		case "server.addr":
			cfg.Server.Addr = flagCfg.Server.Addr
		case "server.pretty":
			cfg.Server.Pretty = flagCfg.Server.Pretty
		case "server.timeout":
			cfg.Server.Timeout = flagCfg.Server.Timeout
		case "server.max-body-bytes":
			cfg.Server.MaxBodyBytes = flagCfg.Server.MaxBodyBytes
		case "server.batch-concurrency":
			cfg.Server.BatchConcurrency = flagCfg.Server.BatchConcurrency
		case "server.cors-origin":
			cfg.Server.CORSOrigins = flagCfg.Server.CORSOrigins
		case "otel.endpoint":
			cfg.Otel.Endpoint = flagCfg.Otel.Endpoint
		case "otel.service":
			cfg.Otel.Service = flagCfg.Otel.Service
		case "v":
			cfg.Log.Verbosity = flagCfg.Log.Verbosity
		}
	})
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if cfg.Schema == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return nil, fmt.Errorf("-schema is required")
	}
	return cfg, nil
}

func newHandler(cfg *config.Config, logger logr.Logger) (*server.Handler, error) {
	sch, err := loadSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	aopts := []analysis.Option{analysis.WithLogger(logger.WithName("analysis"))}
	if cfg.StrictVariables {
		aopts = append(aopts, analysis.WithStrictVariables())
	}

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithBatchConcurrency(cfg.Server.BatchConcurrency),
		server.WithValidateDefault(cfg.Validate),
		server.WithLogger(logger.WithName("server")),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h, err := server.New(analysis.New(sch, aopts...), sopts...)
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}
	return h, nil
}

func cmdServe(args []string) error {
	cfg, err := serveConfig(args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Verbosity)

	eventbus.Use(eventbus.New())
	shutdownTracing, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	h, err := newHandler(cfg, logger)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/analyze", h)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	logger.Info("analysis server listening", "addr", cfg.Server.Addr, "schema", cfg.Schema)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
