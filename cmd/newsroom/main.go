package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/deusflow/newsroom/internal/app"
	"github.com/deusflow/newsroom/internal/config"
	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/metrics"
	"github.com/deusflow/newsroom/internal/storage"
)

type options struct {
	updateFeeds    bool
	generateStatic bool
	stages         map[storage.Step]*bool
	runID          string
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{stages: make(map[storage.Step]*bool)}
	fs.BoolVar(&opts.updateFeeds, "update-feeds", false, "fetch, extract, classify, summarize, score and report")
	fs.BoolVar(&opts.generateStatic, "generate-static", false, "render the latest reports to OUTPUT_DIR")
	fs.StringVar(&opts.runID, "run-id", "", "resume an existing pipeline run (database backend only)")
	for _, step := range app.AllSteps {
		opts.stages[step] = fs.Bool(step.String(), false, "run only the "+step.String()+" stage")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// steps expands the flags into the stages to run; empty means nothing to do.
func (o *options) steps() []storage.Step {
	var steps []storage.Step
	if o.updateFeeds {
		steps = append(steps, app.AllSteps[:len(app.AllSteps)-1]...)
	}
	if o.generateStatic {
		steps = append(steps, storage.StepRender)
	}
	for _, step := range app.AllSteps {
		if *o.stages[step] {
			steps = append(steps, step)
		}
	}
	return steps
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger.Init()

	opts, err := parseFlags(flag.NewFlagSet("newsroom", flag.ContinueOnError), args)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		logger.Error("invalid arguments", "error", err)
		return 2
	}
	steps := opts.steps()
	if len(steps) == 0 {
		logger.Info("nothing to do, pass -update-feeds, -generate-static or a stage flag")
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	// Check if we should start HTTP server for monitoring
	if cfg.EnableHTTPMonitoring {
		go startMonitoringServer(cfg.MonitoringPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator, cleanup, err := app.Build(ctx, cfg, opts.runID)
	if err != nil {
		logger.Error("failed to start pipeline", "error", err)
		return 1
	}
	defer cleanup()

	if err := orchestrator.Run(ctx, steps); err != nil {
		return 1
	}
	return 0
}

func startMonitoringServer(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/metrics", metricsHandler)

	logger.Info("starting monitoring server", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("monitoring server error", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	code := http.StatusOK
	if healthy, _ := stats["is_healthy"].(bool); !healthy {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
