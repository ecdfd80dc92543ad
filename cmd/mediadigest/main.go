package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediadigest/internal/analyze"
	"mediadigest/internal/auth"
	"mediadigest/internal/config"
	"mediadigest/internal/download"
	"mediadigest/internal/logging"
	"mediadigest/internal/media"
	"mediadigest/internal/pipeline"
	"mediadigest/internal/progress"
	"mediadigest/internal/server"
	"mediadigest/internal/store"
	"mediadigest/internal/transcribe"
	"mediadigest/internal/watch"
)

const usage = `mediadigest - download, transcribe and summarize media

Usage: mediadigest <command> [flags] [args]

Commands:
  download   <url>         fetch a remote media file with resume support
  extract    <file>        extract the audio track with ffmpeg
  transcribe <file>        transcribe an audio file to text
  analyze    <transcript>  produce a topic-organized summary
  run        <url|file>    full pipeline: download, extract, transcribe, analyze
  serve                    start the HTTP API and dashboard
  watch                    process media files dropped into a directory
  models                   list available speech models

Run 'mediadigest <command> -h' for command flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	// Env files are optional; flags and real env take precedence.
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "download":
		err = cmdDownload(os.Args[2:])
	case "extract":
		err = cmdExtract(os.Args[2:])
	case "transcribe":
		err = cmdTranscribe(os.Args[2:])
	case "analyze":
		err = cmdAnalyze(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "watch":
		err = cmdWatch(os.Args[2:])
	case "models":
		err = cmdModels(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediadigest: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by every subcommand and
// returns the parsed config once the flag set runs.
func commonFlags(fs *flag.FlagSet) func() (*config.Config, error) {
	cfg := config.New()
	configPath := fs.String("config", "mediadigest.yaml", "Path to YAML config file")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for downloads and results")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	return func() (*config.Config, error) {
		// Flags override the file, so stash explicit values, load, restore.
		flagOut, flagLevel := cfg.OutputDir, cfg.LogLevel
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
		if flagOut != "dump" {
			cfg.OutputDir = flagOut
		}
		if flagLevel != "" {
			cfg.LogLevel = flagLevel
		}
		if cfg.LogLevel == "" {
			cfg.LogLevel = "info"
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := cfg.ResolveOutputDir(); err != nil {
			return nil, err
		}
		logging.Init(logging.ParseLevel(cfg.LogLevel))
		return cfg, nil
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startPrinter consumes reporter messages and renders them on stderr.
// Progress ticks redraw in place; everything else gets its own line.
func startPrinter(r *progress.Reporter) (stop func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		inProgress := false
		for m := range r.Messages() {
			if m.Kind == progress.KindProgress {
				fmt.Fprintf(os.Stderr, "\r%s", m)
				inProgress = true
				continue
			}
			if inProgress {
				fmt.Fprintln(os.Stderr)
				inProgress = false
			}
			fmt.Fprintln(os.Stderr, m)
		}
		if inProgress {
			fmt.Fprintln(os.Stderr)
		}
	}()
	return func() {
		r.Close()
		wg.Wait()
	}
}

// keyFlags registers credential flags shared by commands that call the
// hosted LLM API.
func keyFlags(fs *flag.FlagSet) (apiKey, secretName, region *string) {
	apiKey = fs.String("api-key", "", "API key (overrides env and secrets)")
	secretName = fs.String("secret-name", "", "AWS Secrets Manager secret name")
	region = fs.String("region", "", "AWS region for the secret lookup")
	return
}

func resolveKey(ctx context.Context, cfg *config.Config, explicit, secretName, region string) (string, error) {
	if secretName == "" {
		secretName = cfg.Auth.SecretName
	}
	if region == "" {
		region = cfg.Auth.Region
	}
	return auth.NewResolver(secretName, region).Resolve(ctx, explicit)
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	load := commonFlags(fs)
	headersFile := fs.String("headers-file", "", "JSON file of extra request headers")
	cookiesFile := fs.String("cookies-file", "", "JSON file of cookies to send")
	noAuth := fs.Bool("no-auth", false, "Send only a minimal User-Agent header")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("download: exactly one URL required")
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	reporter := progress.NewReporter(64)
	stop := startPrinter(reporter)
	defer stop()

	d := download.NewDownloader(cfg.AbsOutputDir)
	d.SetReporter(reporter)
	if *noAuth {
		d.SetNoAuth()
	}
	if *headersFile != "" {
		h, err := download.LoadHeaderFile(*headersFile)
		if err != nil {
			return err
		}
		d.SetHeaders(h)
	}
	if *cookiesFile != "" {
		c, err := download.LoadHeaderFile(*cookiesFile)
		if err != nil {
			return err
		}
		d.SetCookies(c)
	}
	tools := media.NewTools()
	d.SetRemuxer(tools.FaststartRemux)

	res, err := d.FetchAuto(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(res.Path)
	return nil
}

func cmdExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	load := commonFlags(fs)
	wav := fs.Bool("wav", false, "Extract 16 kHz mono WAV instead of MP3")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("extract: exactly one input file required")
	}
	if _, err := load(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	tools := media.NewTools()
	var out string
	var err error
	if *wav {
		out, err = tools.ExtractWAV(ctx, fs.Arg(0))
	} else {
		out, err = tools.ExtractAudio(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func cmdTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	load := commonFlags(fs)
	engine := fs.String("engine", "", "Transcription engine (whisper|api)")
	model := fs.String("model", "", "Speech model size")
	language := fs.String("language", "", "Spoken language (auto to detect)")
	apiKey, secretName, region := keyFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("transcribe: exactly one audio file required")
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	if *engine != "" {
		cfg.Transcribe.Engine = *engine
	}
	if *model != "" {
		cfg.Transcribe.Model = *model
	}
	if *language != "" {
		cfg.Transcribe.Language = *language
	}

	ctx, cancel := signalContext()
	defer cancel()

	reporter := progress.NewReporter(64)
	stop := startPrinter(reporter)
	defer stop()

	var eng transcribe.Engine
	switch cfg.Transcribe.Engine {
	case "api":
		key, err := resolveKey(ctx, cfg, *apiKey, *secretName, *region)
		if err != nil {
			return err
		}
		api := transcribe.NewAPI(key, cfg.Analyze.Endpoint, cfg.Transcribe.Language)
		api.SetReporter(reporter)
		eng = api
	default:
		w := transcribe.NewWhisperCPP(cfg.Transcribe, cfg.ModelDir())
		w.SetReporter(reporter)
		eng = w
	}

	res, err := eng.Transcribe(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(res.Path)
	return nil
}

func cmdAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	load := commonFlags(fs)
	apiKey, secretName, region := keyFlags(fs)
	endpoint := fs.String("endpoint", "", "OpenAI-compatible API base URL")
	window := fs.Int("window", 0, "Transcript window size in characters")
	docx := fs.Bool("docx", false, "Also export the summary as a .docx document")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("analyze: exactly one transcript file required")
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	if *endpoint != "" {
		cfg.Analyze.Endpoint = *endpoint
	}
	if *window > 0 {
		cfg.Analyze.WindowSize = *window
	}

	ctx, cancel := signalContext()
	defer cancel()

	key, err := resolveKey(ctx, cfg, *apiKey, *secretName, *region)
	if err != nil {
		return err
	}

	reporter := progress.NewReporter(64)
	stop := startPrinter(reporter)
	defer stop()

	a := analyze.NewAnalyzer(key, cfg.Analyze)
	a.SetReporter(reporter)
	out, err := a.Analyze(ctx, fs.Arg(0), cfg.AbsOutputDir)
	if err != nil {
		return err
	}
	fmt.Println(out)

	if *docx {
		docxPath, err := exportDocx(fs.Arg(0), out)
		if err != nil {
			return err
		}
		fmt.Println(docxPath)
	}
	return nil
}

func exportDocx(sourcePath, analysisPath string) (string, error) {
	body, err := os.ReadFile(analysisPath)
	if err != nil {
		return "", fmt.Errorf("read analysis: %w", err)
	}
	base := strings.TrimSuffix(analysisPath, filepath.Ext(analysisPath))
	docxPath := base + ".docx"
	title := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	if err := analyze.ExportDocx(title, string(body), docxPath); err != nil {
		return "", err
	}
	return docxPath, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	load := commonFlags(fs)
	apiKey, secretName, region := keyFlags(fs)
	docx := fs.Bool("docx", false, "Also export the summary as a .docx document")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("run: exactly one URL or file required")
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	key, err := resolveKey(ctx, cfg, *apiKey, *secretName, *region)
	if err != nil {
		return err
	}

	reporter := progress.NewReporter(64)
	stop := startPrinter(reporter)
	defer stop()

	pl := pipeline.New(cfg, key, reporter)
	res, err := pl.Run(ctx, "cli", fs.Arg(0), func(stage string) {
		reporter.Log("info", "stage: "+stage)
	})
	if err != nil {
		return err
	}
	fmt.Println(res.AnalysisPath)

	if *docx {
		docxPath, err := exportDocx(fs.Arg(0), res.AnalysisPath)
		if err != nil {
			return err
		}
		fmt.Println(docxPath)
	}
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	load := commonFlags(fs)
	apiKey, secretName, region := keyFlags(fs)
	host := fs.String("host", "", "Host address to bind")
	port := fs.Int("port", 0, "Server port")
	workers := fs.Int("workers", 0, "Concurrent pipeline workers")
	queueCap := fs.Int("queue", 0, "Run queue capacity")
	dbPath := fs.String("db", "", "Path to SQLite database")
	_ = fs.Parse(args)
	cfg, err := load()
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if *queueCap != 0 {
		cfg.QueueCap = *queueCap
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	cfg.Addr = cfg.ComputeAddr()
	if err := cfg.ResolveDBPath(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	key, err := resolveKey(ctx, cfg, *apiKey, *secretName, *region)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.AbsDBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.Open(cfg.AbsDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	// Each run gets its own reporter whose ticks land in the registry
	// (dashboard) and, via the hooks, in the store. mgr is assigned
	// before the server can enqueue anything.
	var mgr *pipeline.Manager
	run := pipeline.ManagedRun(cfg, key, func(id string, pct float64) {
		mgr.SetProgress(id, pct)
	})
	mgr = pipeline.NewManager(run, pipeline.ManagerOptions{
		Workers:  cfg.Workers,
		QueueCap: cfg.QueueCap,
		Hooks:    pipeline.NewStoreHooks(st),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(mgr, st),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // long-poll friendly
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogServerStart(cfg.Addr, cfg.Summary())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		mgr.Shutdown()
		st.Close()
		return err
	case <-ctx.Done():
	}

	logging.LogServerShutdown("shutdown signal received, draining", nil)
	shutdownCtx, done := context.WithTimeout(context.Background(), 20*time.Second)
	defer done()

	mgr.StopAccepting()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogServerShutdown("http shutdown", err)
	}
	mgr.Shutdown()
	st.Close()
	logging.LogServerShutdown("shutdown complete", nil)
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	load := commonFlags(fs)
	apiKey, secretName, region := keyFlags(fs)
	inputDir := fs.String("input-dir", "", "Directory to watch for media files")
	maxConcurrent := fs.Int("max-concurrent", 0, "Files processed at once")
	_ = fs.Parse(args)
	cfg, err := load()
	if err != nil {
		return err
	}
	if *inputDir != "" {
		cfg.Watch.InputDir = *inputDir
	}
	if *maxConcurrent != 0 {
		cfg.Watch.MaxConcurrent = *maxConcurrent
	}
	if cfg.Watch.InputDir == "" {
		return errors.New("watch: --input-dir (or watch.input_dir in the config) is required")
	}

	ctx, cancel := signalContext()
	defer cancel()

	key, err := resolveKey(ctx, cfg, *apiKey, *secretName, *region)
	if err != nil {
		return err
	}

	reporter := progress.NewReporter(64)
	stop := startPrinter(reporter)
	defer stop()

	pl := pipeline.New(cfg, key, reporter)
	mgr := pipeline.NewManager(pl.Run, pipeline.ManagerOptions{
		Workers:  cfg.Watch.MaxConcurrent,
		QueueCap: cfg.QueueCap,
	})

	w, err := watch.New(cfg.Watch.InputDir, cfg.Watch.MaxConcurrent, mgr)
	if err != nil {
		return err
	}
	reporter.Log("info", "watching "+cfg.Watch.InputDir)
	err = w.Run(ctx)
	mgr.Shutdown()
	return err
}

func cmdModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	_ = fs.Parse(args)
	for _, size := range transcribe.ModelSizes() {
		m, err := transcribe.LookupModel(size)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %-28s %s\n", m.ID, m.FileName, m.SizeLabel)
	}
	return nil
}
