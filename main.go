package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-faces/config"
	"github.com/nvr-ai/go-faces/inference"
	"github.com/nvr-ai/go-faces/models/blazeface"
	"github.com/nvr-ai/go-faces/models/postprocess"
	"github.com/nvr-ai/go-faces/profiler"
	"github.com/nvr-ai/go-faces/server"
)

const usage = `usage: faces <command> [flags]

commands:
  detect [--recursive] <file or directory>...  print one JSON line per photo
  serve [--addr] [--report-interval]           run the HTTP detection service
  anchors --profile front|back --out <file>    write the SSD anchor table
`

// photoLine is one line of `faces detect` output.
type photoLine struct {
	Path       string                  `json:"path"`
	Width      int                     `json:"width,omitempty"`
	Height     int                     `json:"height,omitempty"`
	Detections []postprocess.Detection `json:"detections"`
	Error      string                  `json:"error,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "detect":
		err = detectCommand(ctx, args[1:], stdout, stderr)
	case "serve":
		err = serveCommand(ctx, args[1:], stderr)
	case "anchors":
		err = anchorsCommand(args[1:], stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return int(exit)
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		fmt.Fprintf(stderr, "faces %s: %v\n", args[0], err)
		return 1
	}
}

// exitError carries an exit code for failures that were already reported.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// commonFlags registers the flags every model command accepts.
func commonFlags(fs *flag.FlagSet) (configPath, logLevel *string) {
	configPath = fs.String("config", "", "Path to a YAML configuration file")
	logLevel = fs.String("log-level", "", "Log level, overrides the configuration")
	return configPath, logLevel
}

// setup loads the configuration and the logger.
func setup(configPath, logLevel string, stderr io.Writer) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return cfg, logger, nil
}

func buildEngine(cfg *config.Config, logger *logrus.Logger) (*inference.Engine, error) {
	return inference.NewEngineBuilder().
		WithLogger(logger).
		WithProvider(cfg.Provider).
		WithModel(cfg.LoadArgs(logger)).
		WithResize(cfg.Resize).
		WithWorkers(cfg.Workers).
		Build()
}

func detectCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, logLevel := commonFlags(fs)
	recursive := fs.Bool("recursive", false, "Descend into subdirectories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no photo or directory given")
	}

	cfg, logger, err := setup(*configPath, *logLevel, stderr)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	enc := json.NewEncoder(stdout)
	failed := false
	for _, target := range fs.Args() {
		results, err := detectTarget(ctx, engine, target, *recursive)
		if err != nil {
			return err
		}
		for _, r := range results {
			line := photoLine{Path: r.Path, Width: r.Width, Height: r.Height, Detections: r.Detections}
			if r.Err != nil {
				line.Error = r.Err.Error()
				failed = true
			}
			if err := enc.Encode(line); err != nil {
				return errors.Wrap(err, "writing output")
			}
		}
	}

	snap := engine.Metrics().Snapshot()
	logger.WithFields(logrus.Fields{
		"images":   snap.Images,
		"failures": snap.Failures,
		"faces":    snap.Faces,
		"avg_ms":   snap.AverageTimeMS,
	}).Info("detection finished")

	if failed {
		return exitError(1)
	}
	return nil
}

func detectTarget(ctx context.Context, engine *inference.Engine, target string, recursive bool) ([]inference.PhotoResult, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", target)
	}
	if info.IsDir() {
		return engine.DetectDirectory(ctx, target, recursive)
	}
	return engine.DetectFiles(ctx, []string{target}), nil
}

func serveCommand(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath, logLevel := commonFlags(fs)
	addr := fs.String("addr", "", "Listen address, overrides the configuration")
	report := fs.Duration("report-interval", 0, "Log a runtime report at this interval, 0 disables it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath, *logLevel, stderr)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if *report > 0 {
		prof := profiler.NewRuntimeProfiler(profiler.Options{ReportInterval: *report, Logger: logger})
		prof.AddMetricsCollector(engine.Metrics())
		go prof.Run(ctx)
	}

	return server.New(engine, cfg.Server, logger).ListenAndServe(ctx)
}

func anchorsCommand(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("anchors", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profileName := fs.String("profile", string(blazeface.ProfileFront), "Model profile: front or back")
	out := fs.String("out", "", "Output .npy file, defaults to the profile's anchor file name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	profile, err := blazeface.ParseProfile(*profileName)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = profile.AnchorsFile()
	}
	anchors := blazeface.GenerateAnchors(profile)
	if err := blazeface.SaveAnchors(path, anchors); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "wrote %d anchors to %s\n", anchors.Len(), path)
	return nil
}
