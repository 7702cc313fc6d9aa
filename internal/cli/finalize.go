package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/pipeline"
)

var (
	inputFile   string
	payloadFile string
	contextJSON string
	outJSON     string
	traceID     string
	timeout     time.Duration
	noLLM       bool
	llmProvider string
	llmModel    string
	noCache     bool
)

// finalizeCmd represents the finalize command
var finalizeCmd = &cobra.Command{
	Use:   "finalize [text]",
	Short: "Finalize one free-form requirement into a validated record",
	Long: `Finalize structures raw requirement text, validates it, detects
contradictions, and prints the resulting record with its status as JSON.

The input text comes from the argument, --file, or stdin, in that order.
A pre-structured payload can be injected with --payload, skipping the
structuring call entirely.

Example:
  reqforge finalize "Build a CLI todo app with reminders"
  cat request.txt | reqforge finalize --json result.json
  reqforge finalize --payload draft.json --no-llm
  reqforge finalize "..." --llm-provider openai --llm-model gpt-4o-mini`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFinalize,
}

func init() {
	rootCmd.AddCommand(finalizeCmd)

	// Input flags
	finalizeCmd.Flags().StringVar(&inputFile, "file", "", "read requirement text from file")
	finalizeCmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with a pre-structured payload (skips structuring)")
	finalizeCmd.Flags().StringVar(&contextJSON, "context", "", "JSON object with caller context hints")
	finalizeCmd.Flags().StringVar(&traceID, "trace-id", "", "trace id for the run (generated when empty)")

	// Output flags
	finalizeCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (default: stdout)")

	// Pipeline flags
	finalizeCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall run timeout")
	finalizeCmd.Flags().BoolVar(&noLLM, "no-llm", false, "use the deterministic local stub instead of the oracle")
	finalizeCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the structuring cache")
	finalizeCmd.Flags().StringVar(&llmProvider, "llm-provider", "", "oracle provider (openai, local)")
	finalizeCmd.Flags().StringVar(&llmModel, "llm-model", "", "oracle model name")
}

func runFinalize(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rawText, err := readInputText(args)
	if err != nil {
		return err
	}

	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}

	req := pipeline.Request{
		RawText: rawText,
		UseLLM:  !noLLM,
		TraceID: traceID,
	}

	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &req.Context); err != nil {
			return fmt.Errorf("parse --context: %w", err)
		}
	}

	if payloadFile != "" {
		data, err := os.ReadFile(payloadFile)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
		if err := json.Unmarshal(data, &req.RawPayload); err != nil {
			return fmt.Errorf("parse payload file: %w", err)
		}
	}

	if req.RawPayload == nil && strings.TrimSpace(rawText) == "" {
		return fmt.Errorf("no requirement text given: pass it as an argument, via --file, or on stdin")
	}

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	result := p.Finalize(ctx, req)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')

	if err := writeRunArtifact(cfg, result, data); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not write run artifact: %v\n", err)
	}

	if outJSON != "" {
		if err := os.WriteFile(outJSON, data, 0644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Result written to %s (status: %s)\n", outJSON, result.Status)
		}
		return nil
	}

	_, err = os.Stdout.Write(data)
	return err
}

// readInputText resolves the requirement text from the argument, --file, or
// stdin, in that order. A terminal stdin is never read.
func readInputText(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("read input file: %w", err)
		}
		return string(data), nil
	}

	if payloadFile != "" {
		return "", nil
	}

	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	return "", nil
}

// buildRunConfig layers finalize flags over the loaded configuration.
func buildRunConfig() (*model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if llmProvider != "" {
		cfg.LLM.Provider = llmProvider
	}
	if llmModel != "" {
		cfg.LLM.Model = llmModel
	}
	if noCache {
		cfg.Cache.Enabled = false
	}

	if !noLLM && cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	return cfg, nil
}

// writeRunArtifact stores the full result under the runs directory keyed by
// trace id, when a runs directory is configured.
func writeRunArtifact(cfg *model.Config, result *model.FinalizeResult, data []byte) error {
	if cfg.Output.RunsDir == "" {
		return nil
	}

	runTrace, _ := result.Meta["trace_id"].(string)
	if runTrace == "" {
		return nil
	}

	if err := os.MkdirAll(cfg.Output.RunsDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.Output.RunsDir, runTrace+".json"), data, 0644)
}
