package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"AutoScript/internal/artifact"
	"AutoScript/internal/executor"
	"AutoScript/internal/pipeline"
)

// Export file names for the three bundle sections
const (
	ScriptFile       = "script.py"
	RequirementsFile = "requirements.txt"
	ReadmeFile       = "README.md"
)

// REPL is the interactive shell around one pipeline
type REPL struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
}

// New creates a REPL reading commands from in and writing to out
func New(p *pipeline.Pipeline, in io.Reader, out io.Writer, logger *slog.Logger) *REPL {
	if logger == nil {
		logger = slog.Default()
	}
	return &REPL{pipeline: p, logger: logger, in: in, out: out}
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Run reads lines until EOF, /quit or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	sess := r.pipeline.Session()

	r.printf("=== AutoScript ===\n")
	r.printf("Session: %s\n", sess.ID)
	r.printf("Model: %s\n", sess.ModelID)
	r.printf("Describe the task you want automated. Type /help for commands, /quit to exit\n\n")
	for _, msg := range r.pipeline.Conversation().Messages() {
		r.printf("AI: %s\n\n", msg.Content)
	}

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.printf("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(ctx, input)
			if err != nil {
				r.printf("Error: %v\n\n", err)
				r.logger.Error("command error", "command", input, "error", err)
			}
			if quit {
				break
			}
			continue
		}

		reply, err := r.pipeline.Chat(ctx, input)
		if err != nil {
			r.reportFailure(err)
			r.logger.Error("chat failed", "error", err)
			continue
		}
		r.printf("AI: %s\n\n", reply.Content)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	r.printf("Goodbye!\n")
	return nil
}

// reportFailure prints the fallback text for exhausted requests and the raw error otherwise.
func (r *REPL) reportFailure(err error) {
	if msg, ok := executor.FallbackMessage(err); ok {
		r.printf("AI: %s\n\n", msg)
		return
	}
	r.printf("Error: %v\n\n", err)
}

func (r *REPL) handleCommand(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/generate":
		r.printf("Generating your automation script...\n")
		bundle, err := r.pipeline.Generate(ctx)
		if err != nil {
			r.logger.Error("generate failed", "error", err)
			r.reportFailure(err)
			return false, nil
		}
		r.printf("Script ready (%d lines). Use /show to view it or /refine to change it.\n\n",
			strings.Count(bundle.PrimaryFile, "\n")+1)
		return false, nil

	case "/refine":
		if arg == "" {
			return false, fmt.Errorf("usage: /refine <instruction>")
		}
		r.printf("Refining...\n")
		res, err := r.pipeline.Refine(ctx, arg)
		if err != nil {
			if errors.Is(err, artifact.ErrNoArtifact) {
				return false, fmt.Errorf("nothing to refine yet, run /generate first")
			}
			r.logger.Error("refine failed", "error", err)
			r.reportFailure(err)
			return false, nil
		}
		r.printf("Updated: %s\n\n", res.Changes)
		return false, nil

	case "/discuss":
		if arg == "" {
			return false, fmt.Errorf("usage: /discuss <question>")
		}
		reply, err := r.pipeline.Discuss(ctx, arg)
		if err != nil {
			if errors.Is(err, artifact.ErrNoArtifact) {
				return false, fmt.Errorf("nothing to discuss yet, run /generate first")
			}
			r.reportFailure(err)
			return false, nil
		}
		r.printf("AI: %s\n\n", reply.Content)
		return false, nil

	case "/show":
		bundle, err := r.pipeline.Store().MustGet()
		if err != nil {
			return false, err
		}
		switch arg {
		case "", "script":
			r.printf("--- %s ---\n%s\n\n", ScriptFile, bundle.PrimaryFile)
		case "requirements":
			r.printf("--- %s ---\n%s\n\n", RequirementsFile, bundle.Manifest)
		case "readme":
			r.printf("--- %s ---\n%s\n\n", ReadmeFile, bundle.Docs)
		case "all":
			r.printf("--- %s ---\n%s\n\n--- %s ---\n%s\n\n--- %s ---\n%s\n\n",
				ScriptFile, bundle.PrimaryFile, RequirementsFile, bundle.Manifest, ReadmeFile, bundle.Docs)
		default:
			return false, fmt.Errorf("usage: /show [script|requirements|readme|all]")
		}
		return false, nil

	case "/export":
		if arg == "" {
			arg = "."
		}
		bundle, err := r.pipeline.Store().MustGet()
		if err != nil {
			return false, err
		}
		if err := Export(arg, bundle); err != nil {
			return false, err
		}
		r.printf("Wrote %s, %s and %s to %s\n\n", ScriptFile, RequirementsFile, ReadmeFile, arg)
		return false, nil

	case "/state":
		r.printf("State: %s (bundle version %d)\n\n", r.pipeline.State(), r.pipeline.Store().Version())
		return false, nil

	case "/help":
		r.printf("Available commands:\n")
		r.printf("  <text>                 - Describe or clarify the task\n")
		r.printf("  /generate              - Generate script, requirements and README from the conversation\n")
		r.printf("  /refine <instruction>  - Change the generated script\n")
		r.printf("  /discuss <question>    - Ask about the generated script\n")
		r.printf("  /show [section]        - Print script, requirements, readme or all\n")
		r.printf("  /export [dir]          - Write the bundle files to dir\n")
		r.printf("  /state                 - Show the pipeline state\n")
		r.printf("  /quit, /exit           - Exit\n\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// Export writes the bundle sections into dir, creating it if needed.
func Export(dir string, b artifact.Bundle) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	files := []struct {
		name, content string
	}{
		{ScriptFile, b.PrimaryFile},
		{RequirementsFile, b.Manifest},
		{ReadmeFile, b.Docs},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}
