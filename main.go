// loglens - AI analysis for log and crash-report files.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/loglens/internal/analyze"
	"github.com/jeranaias/loglens/internal/client"
	"github.com/jeranaias/loglens/internal/config"
	"github.com/jeranaias/loglens/internal/conversation"
	"github.com/jeranaias/loglens/internal/ratelimit"
	termview "github.com/jeranaias/loglens/internal/term"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// maxFileBytes caps how much of a log file is sent for analysis.
const maxFileBytes = 512 * 1024

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		fmt.Printf("loglens %s (%s, %s)\n", Version, GitCommit, BuildDate)
	case "models":
		if err := runModels(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	case "history":
		if err := runHistory(); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	case "analyze":
		if err := runAnalyze(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	case "help", "--help", "-h":
		usage()
	default:
		// Bare file path is shorthand for analyze.
		if err := runAnalyze(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `loglens - AI analysis for log and crash-report files

Usage:
  loglens analyze <file> [--mode quick|smart|deep] [--model NAME]
  loglens <file>                     shorthand for analyze
  loglens models [provider]          list available models
  loglens history                    list archived conversations
  loglens version

Configuration is read from ~/.loglens/config.toml (or config.json).
`)
}

// =============================================================================
// ANALYZE COMMAND
// =============================================================================

func runAnalyze(args []string) error {
	var filePath, mode, model string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--mode":
			i++
			if i < len(args) {
				mode = args[i]
			}
		case "--model":
			i++
			if i < len(args) {
				model = args[i]
			}
		default:
			if filePath == "" {
				filePath = args[i]
			}
		}
	}
	if filePath == "" {
		return fmt.Errorf("no file given")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Analysis.Mode = mode
	}
	if model != "" {
		cfg.Analysis.Model = model
	}

	content, err := readCapped(filePath)
	if err != nil {
		return err
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	width := 80
	if isTTY {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	view := termview.NewView(os.Stdout, width, isTTY, cfg.UI.Theme)

	backend := client.New(cfg.Backend.BaseURL).
		WithTimeout(time.Duration(cfg.Backend.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.Backend.MaxRetries)
	if cfg.Backend.RequestsPerSecond > 0 {
		backend.WithRateLimit(cfg.Backend.RequestsPerSecond)
	}

	store := conversation.NewStore()
	tracker := ratelimit.NewTracker()

	archive, err := openArchive(cfg)
	if err != nil {
		log.Printf("archive disabled: %v", err)
	}
	var conversationID string
	if archive != nil {
		defer archive.Close()
		conversationID, err = archive.BeginConversation(context.Background(), "",
			filepath.Base(filePath), cfg.Analysis.Model)
		if err != nil {
			log.Printf("archive disabled: %v", err)
			archive = nil
		}
	}

	analyzer := analyze.NewAnalyzer(backend, view, store, analyze.Options{
		Provider: cfg.Analysis.Provider,
		Model:    cfg.Analysis.Model,
		Mode:     cfg.Analysis.Mode,
		Grace:    time.Duration(cfg.Analysis.GraceMs) * time.Millisecond,
		Debounce: time.Duration(cfg.Analysis.DebounceMs) * time.Millisecond,
		RateSink: tracker,
	})

	fmt.Printf("Analyzing %s (%s, %s)...\n", filepath.Base(filePath),
		cfg.Analysis.Model, cfg.Analysis.Mode)

	sess, err := analyzer.Analyze(context.Background(), filePath, filepath.Base(filePath), content)
	if err != nil {
		return err
	}
	sess.Wait()

	if sess.Outcome() == analyze.StateCompleting {
		view.FinishPreview()
		if rendered, rerr := view.RenderFinal(sess.Buffer()); rerr == nil {
			fmt.Print(rendered)
		} else {
			fmt.Println(sess.Buffer())
		}
		in, out := sess.TokenCounts()
		fmt.Printf("\n[%d in / %d out tokens, $%.4f] %s\n", in, out, sess.Cost(),
			tracker.Current().Format())
	}
	archiveTurns(archive, conversationID, store)

	if isTTY {
		return followUpLoop(analyzer, view, store, archive, conversationID)
	}
	return nil
}

// followUpLoop reads follow-up questions until EOF or an empty line.
func followUpLoop(analyzer *analyze.Analyzer, view *termview.View,
	store *conversation.Store, archive *conversation.Archive, conversationID string) error {

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("\nAsk follow-up questions (empty line to quit):")
	for {
		question, err := line.Prompt("? ")
		if err != nil || strings.TrimSpace(question) == "" {
			return nil
		}
		question = strings.TrimSpace(question)
		line.AppendHistory(question)

		answer, err := analyzer.Ask(context.Background(), question)
		if err != nil {
			// The question is preserved; offer it back pre-filled.
			fmt.Fprintln(os.Stderr, "Question failed, press up to retry.")
			continue
		}
		if rendered, rerr := view.RenderFinal(answer); rerr == nil {
			fmt.Print(rendered)
		} else {
			fmt.Println(answer)
		}
		archiveTurns(archive, conversationID, store)
	}
}

// =============================================================================
// MODELS / HISTORY COMMANDS
// =============================================================================

func runModels(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	provider := cfg.Analysis.Provider
	if len(args) > 0 {
		provider = args[0]
	}

	backend := client.New(cfg.Backend.BaseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	models, err := backend.Models(ctx, provider)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Pricing != nil {
			fmt.Printf("%-24s %s ($%.2f/$%.2f per Mtok)\n", m.ID, m.Description,
				m.Pricing.Input, m.Pricing.Output)
			continue
		}
		fmt.Printf("%-24s %s\n", m.ID, m.Description)
	}
	return nil
}

func runHistory() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	if archive == nil {
		return fmt.Errorf("archive disabled in config")
	}
	defer archive.Close()

	metas, err := archive.List(context.Background())
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No archived conversations.")
		return nil
	}
	for _, m := range metas {
		fmt.Printf("%s  %-20s %2d turns  %s\n",
			m.UpdatedAt.Format("2006-01-02 15:04"), m.FileName, m.TurnCount, m.Summary)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func readCapped(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > maxFileBytes {
		// Crash reports put the interesting part at the end.
		data = data[len(data)-maxFileBytes:]
	}
	return string(data), nil
}

func openArchive(cfg *config.Config) (*conversation.Archive, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	path := cfg.Archive.Path
	if path == "" {
		var err error
		path, err = config.DefaultArchivePath()
		if err != nil {
			return nil, err
		}
	}
	return conversation.OpenArchive(path)
}

// archiveTurns writes any turns not yet persisted. Failures only log;
// the archive is write-behind and never blocks the session.
func archiveTurns(archive *conversation.Archive, conversationID string, store *conversation.Store) {
	if archive == nil || conversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	persisted, err := archive.Load(ctx, conversationID)
	if err != nil {
		log.Printf("archive read failed: %v", err)
		return
	}
	turns := store.Turns()
	for i := len(persisted); i < len(turns); i++ {
		if err := archive.AppendTurn(ctx, conversationID, turns[i]); err != nil {
			log.Printf("archive write failed: %v", err)
			return
		}
	}
}
