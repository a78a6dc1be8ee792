// typetraced - Keystroke telemetry for writing sessions
//
//	typetraced init                 Write a default config file
//	typetraced record               Capture a writing session
//	typetraced sessions             List stored sessions
//	typetraced replay <session>     Replay a session in the terminal
//	typetraced analyze              Compute session analytics
//	typetraced status <session>     Show retention status
//	typetraced policies             List retention policies
//	typetraced export               Request a data export
//	typetraced delete               Request or confirm a deletion
//	typetraced audit <session>      Show the data-handling log
//	typetraced sweep                Run the retention sweeper once
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"typetrace/internal/analytics"
	"typetrace/internal/capture"
	"typetrace/internal/config"
	"typetrace/internal/event"
	"typetrace/internal/logging"
	"typetrace/internal/replay"
	"typetrace/internal/retention"
	"typetrace/internal/sink"
	"typetrace/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "init":
		cmdInit()
	case "record":
		cmdRecord()
	case "sessions":
		cmdSessions()
	case "replay":
		cmdReplay()
	case "analyze":
		cmdAnalyze()
	case "status":
		cmdStatus()
	case "policies":
		cmdPolicies()
	case "export":
		cmdExport()
	case "delete":
		cmdDelete()
	case "audit":
		cmdAudit()
	case "sweep":
		cmdSweep()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`typetraced - Keystroke telemetry for writing sessions

USAGE:
    typetraced <command> [options]

COMMANDS:
    init                Write a default config file
    record              Capture a writing session from stdin or a script
    sessions            List stored sessions
    replay <session>    Replay a stored session in the terminal
    analyze             Compute analytics for stored sessions
    status <session>    Show the retention status of a session
    policies            List retention policies
    export              Request an export of your sessions
    delete              Request, confirm, or cancel a deletion
    audit <session>     Show the data-handling log for a session
    sweep               Run the retention auto-delete sweeper once
    help                Show this help message

RECORDING:
    typetraced record -subject alice -document draft-1
      Reads lines from stdin; each line is appended to the document.
      End with EOF (Ctrl-D).

    typetraced record -subject alice -document draft-1 -script s.json
      Replays a synthetic action script (see tools/session-gen).

PRIVACY:
    The privacy level set at capture time bounds what is persisted:
    "full" keeps payloads, "anonymized" masks characters but keeps
    timing and structure, "metadata_only" drops payloads entirely.
    Raising the level later cannot recover what was never stored.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig loads the config file, falling back to defaults when the
// file does not exist.
func loadConfig(path string) *config.Config {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fatal("load config %s: %v", path, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}
	return cfg
}

// setupLogging builds the process logger from config and installs it
// as the default.
func setupLogging(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}

	logger, err := logging.New(lc)
	if err != nil {
		fatal("set up logging: %v", err)
	}
	logging.SetDefault(logger)
	return logger
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.OpenWithBusyTimeout(cfg.Storage.Path,
		time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		fatal("open store: %v", err)
	}
	return st
}

func newManager(cfg *config.Config, st *store.Store, logger *logging.Logger) *retention.Manager {
	mgr, err := retention.NewManager(retention.Config{
		SweepInterval:   time.Duration(cfg.Retention.SweepIntervalSec) * time.Second,
		ConfirmationTTL: time.Duration(cfg.Retention.ConfirmationTTLSec) * time.Second,
		ExportDir:       cfg.Retention.ExportDir,
	}, st, logger, logging.DefaultAuditLogger())
	if err != nil {
		fatal("create retention manager: %v", err)
	}
	return mgr
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", config.DefaultPath(), "config file path")
	force := fs.Bool("force", false, "overwrite an existing config file")
	fs.Parse(os.Args[2:])

	if _, err := os.Stat(*path); err == nil && !*force {
		fatal("config already exists at %s (use -force to overwrite)", *path)
	}

	cfg := config.Default()
	if err := cfg.Save(*path); err != nil {
		fatal("write config: %v", err)
	}
	fmt.Printf("Wrote default config to %s\n", *path)
	fmt.Printf("Database: %s\n", cfg.Storage.Path)
}

// scriptAction is one entry of a synthetic recording script.
type scriptAction struct {
	DelayMs    int64  `json:"delay_ms"`
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	CaretStart int    `json:"caret_start"`
	CaretEnd   int    `json:"caret_end"`
	Pause      bool   `json:"pause,omitempty"`
	Resume     bool   `json:"resume,omitempty"`
}

func cmdRecord() {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	subject := fs.String("subject", "", "subject (writer) id")
	document := fs.String("document", "", "document id")
	title := fs.String("title", "", "document title")
	privacy := fs.String("privacy", "", "privacy level override: full, anonymized, metadata_only")
	script := fs.String("script", "", "synthetic action script (JSON)")
	fs.Parse(os.Args[2:])

	if *subject == "" || *document == "" {
		fatal("record requires -subject and -document")
	}

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fatal("load config %s: %v", *configPath, err)
	}
	logger := setupLogging(cfg)
	defer logger.Close()

	// A recording can outlive an edit to the config file; apply
	// logging.level changes to the running session.
	loader.OnChange(func(next *config.Config) {
		if level, err := logging.ParseLevel(next.Logging.Level); err == nil {
			logger.SetLevel(level)
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()

	st := openStore(cfg)
	defer st.Close()

	cache := store.NewFallbackCache(cfg.Capture.FallbackDir)
	if n, err := cache.Drain(st); err != nil {
		logger.Warn("drain fallback cache", "recovered", n, "error", err)
	} else if n > 0 {
		fmt.Printf("Recovered %d cached session(s)\n", n)
	}

	capCfg := capture.Config{
		SampleRate:              time.Duration(cfg.Capture.SampleRateMs) * time.Millisecond,
		BufferSize:              cfg.Capture.BufferSize,
		PasteThreshold:          cfg.Capture.PasteThreshold,
		EnablePasteDetection:    cfg.Capture.EnablePasteDetection,
		EnableSelectionTracking: cfg.Capture.EnableSelectionTracking,
		EnableTimingAnalysis:    cfg.Capture.EnableTimingAnalysis,
		InactivityTimeout:       cfg.Capture.InactivityTimeout(),
		PrivacyLevel:            event.PrivacyLevel(cfg.Capture.PrivacyLevel),
	}
	if *privacy != "" {
		level, err := event.ParsePrivacyLevel(*privacy)
		if err != nil {
			fatal("%v", err)
		}
		capCfg.PrivacyLevel = level
	}

	rec := capture.NewRecorder(capCfg, st, cache, logger)
	id, err := rec.Start(*subject, *document, *title)
	if err != nil {
		fatal("start recording: %v", err)
	}
	fmt.Printf("Recording session %s (privacy: %s)\n", id, capCfg.PrivacyLevel)

	// Stop cleanly on interrupt so the session is finalized, not lost.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		if _, err := rec.Stop(); err != nil && !errors.Is(err, capture.ErrAlreadyStopped) {
			logger.Error("stop on signal", "error", err)
		}
		os.Exit(0)
	}()

	if *script != "" {
		runScript(rec, *script)
	} else {
		recordFromStdin(rec)
	}

	final, err := rec.Stop()
	if err != nil {
		if errors.Is(err, capture.ErrAlreadyStopped) {
			fmt.Println("Session already finalized (inactivity timeout)")
			return
		}
		fatal("stop recording: %v", err)
	}

	fmt.Printf("Session %s saved: %d events, %d keystrokes, %.1f WPM\n",
		final.ID, len(final.Events), final.TotalKeystrokes, final.AverageWPM)
}

// recordFromStdin appends each stdin line to the document.
func recordFromStdin(rec *capture.Recorder) {
	fmt.Println("Type lines; EOF (Ctrl-D) stops the recording.")
	scanner := bufio.NewScanner(os.Stdin)
	caret := 0
	for scanner.Scan() {
		text := scanner.Text() + "\n"
		if err := rec.HandleAction(capture.Action{
			Type:       capture.ActionInsert,
			Data:       text,
			CaretStart: caret,
			CaretEnd:   caret,
		}); err != nil {
			fatal("handle input: %v", err)
		}
		caret += len([]rune(text))
	}
}

// runScript feeds a synthetic action script through the recorder with
// timestamps derived from the scripted delays.
func runScript(rec *capture.Recorder, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal("read script: %v", err)
	}
	var actions []scriptAction
	if err := json.Unmarshal(data, &actions); err != nil {
		fatal("parse script: %v", err)
	}

	base := time.Now()
	var elapsed time.Duration
	for _, a := range actions {
		elapsed += time.Duration(a.DelayMs) * time.Millisecond
		switch {
		case a.Pause:
			if err := rec.Pause(); err != nil {
				fatal("pause: %v", err)
			}
			continue
		case a.Resume:
			if err := rec.Resume(); err != nil {
				fatal("resume: %v", err)
			}
			continue
		}

		err := rec.HandleAction(capture.Action{
			Timestamp:  base.Add(elapsed),
			Type:       capture.ActionType(a.Type),
			Data:       a.Data,
			CaretStart: a.CaretStart,
			CaretEnd:   a.CaretEnd,
		})
		if err != nil {
			fatal("handle scripted action: %v", err)
		}
	}
	fmt.Printf("Fed %d scripted actions\n", len(actions))
}

func cmdSessions() {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	subject := fs.String("subject", "", "filter by subject id")
	document := fs.String("document", "", "filter by document id")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	st := openStore(cfg)
	defer st.Close()

	sessions, err := st.ListSessions(store.SessionFilter{SubjectID: *subject, DocumentID: *document})
	if err != nil {
		fatal("list sessions: %v", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}

	for _, s := range sessions {
		state := ""
		if s.Purged() {
			state = " [purged]"
		}
		fmt.Printf("%s  %s  subject=%s doc=%s  %d keystrokes  %.1f WPM%s\n",
			s.ID, s.StartTime.Format(time.RFC3339), s.SubjectID, s.DocumentID,
			s.TotalKeystrokes, s.AverageWPM, state)
	}
}

func cmdReplay() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	speed := fs.Float64("speed", 1.0, "playback speed multiplier")
	scrub := fs.Bool("scrub", false, "fixed-tick scrubbing instead of recorded timing")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatal("replay requires a session id")
	}
	sessionID := fs.Arg(0)

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	buf := sink.NewBuffer()
	engine := replay.New(replay.Config{
		MinSpeed:               cfg.Replay.MinSpeed,
		MaxSpeed:               cfg.Replay.MaxSpeed,
		SkipIncrement:          time.Duration(cfg.Replay.SkipIncrementSec) * time.Second,
		PreserveTimingAccuracy: cfg.Replay.PreserveTimingAccuracy && !*scrub,
		MinTick:                time.Duration(cfg.Replay.MinTickMs) * time.Millisecond,
		CheckpointInterval:     cfg.Replay.CheckpointInterval,
	}, st, buf, logger)
	defer engine.Destroy()

	notifications := engine.Subscribe()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Load(ctx, sessionID); err != nil {
		fatal("load session: %v", err)
	}
	engine.SetSpeed(*speed)

	state := engine.State()
	fmt.Printf("Replaying %s: %s at %.2fx\n",
		sessionID, state.TotalDuration.Round(time.Second), engine.Speed())

	if err := engine.Play(); err != nil {
		fatal("play: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			engine.Stop()
			fmt.Println("\nInterrupted")
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			switch n.Kind {
			case replay.NotifyTimeUpdate:
				fmt.Printf("\r%6.1f%%  %s  ", n.Progress*100,
					n.Time.Round(100*time.Millisecond))
			case replay.NotifyComplete:
				fmt.Println("\n--- final content ---")
				fmt.Println(buf.Content())
				a := engine.Analytics()
				fmt.Printf("Playback: %.0f%% viewed in %s (avg speed %.2fx)\n",
					a.CompletionRate*100, a.TotalPlayTime.Round(time.Second), a.AverageSpeed)
				return
			}
		}
	}
}

func cmdAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	subject := fs.String("subject", "", "analyze all sessions of a subject")
	document := fs.String("document", "", "analyze all sessions of a document")
	sessions := fs.String("sessions", "", "comma-separated session ids")
	asJSON := fs.Bool("json", false, "emit raw JSON")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	weights := analytics.DefaultWeights()
	weights.PauseThresholdMs = cfg.Analytics.PauseThresholdMs
	weights.BurstGapMs = cfg.Analytics.BurstGapMs
	weights.BurstMinKeystrokes = cfg.Analytics.BurstMinKeystrokes

	svc := analytics.NewService(st, weights, logger)

	var results []analytics.SessionAnalytics
	var err error
	switch {
	case *sessions != "":
		results, err = svc.BySessions(strings.Split(*sessions, ","))
	case *document != "":
		results, err = svc.ByDocument(*document)
	case *subject != "":
		results, err = svc.BySubject(*subject)
	default:
		fatal("analyze requires -subject, -document, or -sessions")
	}
	if err != nil {
		fatal("analyze: %v", err)
	}

	summary := analytics.Summarize(results)

	if *asJSON {
		out, err := json.MarshalIndent(map[string]any{
			"sessions": results,
			"summary":  summary,
		}, "", "  ")
		if err != nil {
			fatal("marshal analytics: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	for _, a := range results {
		fmt.Printf("%s  %s  %.1f WPM  focus %.0f  productivity %.0f  engagement %.0f  pauses %d/%d/%d  bursts %d\n",
			a.SessionID, a.SessionType, a.WordsPerMinute,
			a.FocusScore, a.ProductivityScore, a.EngagementScore,
			a.PauseBuckets.Short, a.PauseBuckets.Medium, a.PauseBuckets.Long,
			len(a.Bursts))
	}
	fmt.Printf("\n%d sessions, %s on task, avg %.1f WPM, trend %+.1f\n",
		summary.TotalSessions, summary.TotalTimeOnTask.Round(time.Second),
		summary.AverageWPM, summary.ImprovementTrend)
	for t, n := range summary.SessionTypeDistribution {
		fmt.Printf("  %-12s %d\n", t, n)
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatal("status requires a session id")
	}
	sessionID := fs.Arg(0)

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	mgr := newManager(cfg, st, logger)
	defer mgr.Close()

	rs, err := mgr.StatusFor(sessionID, time.Now())
	if err != nil {
		fatal("retention status: %v", err)
	}

	fmt.Printf("Session %s\n", sessionID)
	fmt.Printf("  Status:             %s\n", rs.Status)
	fmt.Printf("  Days remaining:     %d\n", rs.DaysRemaining)
	fmt.Printf("  Retention ends:     %s\n", rs.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("  Scheduled deletion: %s\n", rs.ScheduledDeletion.Format(time.RFC3339))
}

func cmdPolicies() {
	fs := flag.NewFlagSet("policies", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	mgr := newManager(cfg, st, logger)
	defer mgr.Close()

	policies, err := st.ListPolicies()
	if err != nil {
		fatal("list policies: %v", err)
	}
	for _, p := range policies {
		fmt.Printf("%-16s %s\n", p.ID, p.Name)
		fmt.Printf("  retention %dd, warning %dd, grace %dd, auto-delete %t, confirmation %t\n",
			p.RetentionPeriodDays, p.WarningPeriodDays, p.GracePeriodDays,
			p.AutoDelete, p.RequireConfirmation)
		fmt.Printf("  privacy levels: %s\n", strings.Join(p.ApplicablePrivacyLevels, ", "))
	}
}

func cmdExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	user := fs.String("user", "", "requesting user id (must be the recording subject)")
	ids := fs.String("sessions", "", "comma-separated session ids")
	format := fs.String("format", "json", "export format: json or csv")
	wait := fs.Bool("wait", true, "wait for the artifact")
	fs.Parse(os.Args[2:])

	if *user == "" || *ids == "" {
		fatal("export requires -user and -sessions")
	}

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	mgr := newManager(cfg, st, logger)
	mgr.Start()
	defer mgr.Close()

	ctx := context.Background()
	req, err := mgr.RequestExport(ctx, *user, strings.Split(*ids, ","), store.ExportFormat(*format))
	if err != nil {
		fatal("request export: %v", err)
	}
	fmt.Printf("Export request %s (%s)\n", req.ID, req.Status)

	if !*wait {
		return
	}
	for i := 0; i < 100; i++ {
		time.Sleep(100 * time.Millisecond)
		r, err := st.GetExportRequest(req.ID)
		if err != nil {
			fatal("poll export: %v", err)
		}
		switch r.Status {
		case store.StatusCompleted:
			fmt.Printf("Artifact: %s\n", r.ArtifactPath)
			return
		case store.StatusFailed:
			fatal("export failed: %s", r.Error)
		}
	}
	fmt.Println("Export still processing; check later with the request id")
}

func cmdDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	user := fs.String("user", "", "requesting user id (must be the recording subject)")
	ids := fs.String("sessions", "", "comma-separated session ids")
	reason := fs.String("reason", "", "reason for deletion")
	confirm := fs.String("confirm", "", "confirmation code for an existing request")
	request := fs.String("request", "", "deletion request id (with -confirm or -cancel)")
	cancel := fs.Bool("cancel", false, "cancel a pending request")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	mgr := newManager(cfg, st, logger)
	defer mgr.Close()

	ctx := context.Background()

	switch {
	case *cancel:
		if *request == "" || *user == "" {
			fatal("cancel requires -request and -user")
		}
		if err := mgr.CancelDeletion(ctx, *request, *user); err != nil {
			fatal("cancel deletion: %v", err)
		}
		fmt.Printf("Deletion request %s cancelled\n", *request)

	case *confirm != "":
		if *request == "" {
			fatal("confirm requires -request")
		}
		if err := mgr.ConfirmDeletion(ctx, *request, *confirm); err != nil {
			fatal("confirm deletion: %v", err)
		}
		fmt.Printf("Deletion request %s confirmed and executed\n", *request)

	default:
		if *user == "" || *ids == "" {
			fatal("delete requires -user and -sessions")
		}
		outcome, err := mgr.RequestDeletion(ctx, *user, strings.Split(*ids, ","), *reason)
		if err != nil {
			if errors.Is(err, retention.ErrAlreadyDeleted) {
				fmt.Println("All requested sessions were already deleted")
				return
			}
			fatal("request deletion: %v", err)
		}
		for _, id := range outcome.AlreadyDeleted {
			fmt.Printf("Session %s was already deleted\n", id)
		}
		if outcome.Request == nil {
			return
		}
		fmt.Printf("Deletion request %s (%s)\n", outcome.Request.ID, outcome.Request.Status)
		if outcome.ConfirmationCode != "" {
			fmt.Printf("Confirmation code: %s (valid %s)\n", outcome.ConfirmationCode,
				time.Until(outcome.Request.CodeExpiresAt).Round(time.Minute))
			fmt.Printf("Run: typetraced delete -request %s -confirm <code>\n", outcome.Request.ID)
		}
	}
}

func cmdAudit() {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	limit := fs.Int("limit", 50, "maximum entries to show")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatal("audit requires a session id")
	}
	sessionID := fs.Arg(0)

	cfg := loadConfig(*configPath)
	st := openStore(cfg)
	defer st.Close()

	entries, err := st.QueryHandlingLog(sessionID, *limit)
	if err != nil {
		fatal("query handling log: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No handling entries for this session")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-28s by=%s  %s\n",
			e.Timestamp.Format(time.RFC3339), e.Action, e.PerformedBy, e.Details)
	}
}

func cmdSweep() {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	logger := setupLogging(cfg)
	defer logger.Close()

	st := openStore(cfg)
	defer st.Close()

	mgr := newManager(cfg, st, logger)
	defer mgr.Close()

	if err := mgr.Sweep(context.Background(), time.Now()); err != nil {
		fatal("sweep: %v", err)
	}
	fmt.Println("Sweep complete")
}
