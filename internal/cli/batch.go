package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reqforge/reqforge/internal/model"
	"github.com/reqforge/reqforge/internal/pipeline"
	"github.com/reqforge/reqforge/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Finalize multiple requirements from a file in parallel",
	Long: `Batch finalizes many requirement texts concurrently:
- Read requirement texts from the input file (one per line)
- Process texts in parallel with a configurable worker count
- Write one result JSON per line into the output directory

Blank lines and lines starting with # are skipped.

Example:
  reqforge batch requests.txt
  reqforge batch requests.txt --concurrency 8 --output-dir ./results
  reqforge batch requests.txt --no-llm`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./reqforge-results", "output directory for result files")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")

	// Pipeline flags shared with finalize
	batchCmd.Flags().BoolVar(&noLLM, "no-llm", false, "use the deterministic local stub instead of the oracle")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the structuring cache")
	batchCmd.Flags().StringVar(&llmProvider, "llm-provider", "", "oracle provider (openai, local)")
	batchCmd.Flags().StringVar(&llmModel, "llm-model", "", "oracle model name")
}

// batchJob finalizes one input line and writes its result file.
type batchJob struct {
	pipeline *pipeline.Pipeline
	text     string
	line     int
	dir      string
}

// batchResult reports one job's outcome to the summary loop.
type batchResult struct {
	line   int
	status string
	path   string
	err    error
}

// Err implements worker.Result.
func (r batchResult) Err() error { return r.err }

// Execute implements worker.Job.
func (j batchJob) Execute(ctx context.Context) worker.Result {
	res := j.pipeline.Finalize(ctx, pipeline.Request{
		RawText: j.text,
		UseLLM:  !noLLM,
	})

	out := batchResult{line: j.line, status: res.Status}

	runTrace, _ := res.Meta["trace_id"].(string)
	if runTrace == "" {
		runTrace = fmt.Sprintf("line-%d", j.line)
	}
	out.path = filepath.Join(j.dir, runTrace+".json")

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		out.err = fmt.Errorf("line %d: marshal result: %w", j.line, err)
		return out
	}
	if err := os.WriteFile(out.path, append(data, '\n'), 0644); err != nil {
		out.err = fmt.Errorf("line %d: write result: %w", j.line, err)
	}
	return out
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}

	texts, err := readBatchFile(file)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("no requirement texts found in %s", file)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Processing %d requirements with %d workers...\n", len(texts), concurrency)

	jobs := make([]worker.Job, 0, len(texts))
	for i, text := range texts {
		jobs = append(jobs, batchJob{pipeline: p, text: text, line: i + 1, dir: outputDir})
	}

	results := worker.NewPool(concurrency).Run(ctx, jobs)

	counts := map[string]int{}
	failures := 0
	for _, result := range results {
		if result == nil {
			failures++
			continue
		}
		br := result.(batchResult)
		if br.err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %v\n", br.err)
			continue
		}
		counts[br.status]++
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ line %d: %s -> %s\n", br.line, br.status, br.path)
		}
	}

	fmt.Fprintf(os.Stderr, "\nDone: %d processed, %d failed\n", len(results)-failures, failures)
	for _, status := range []string{
		model.StatusOK,
		model.StatusPartiallyOK,
		model.StatusNeedsClarification,
		model.StatusNeedsHumanReview,
	} {
		if counts[status] > 0 {
			fmt.Fprintf(os.Stderr, "  %-20s %d\n", status, counts[status])
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d requirements failed", failures, len(results))
	}
	return nil
}

// readBatchFile loads one requirement text per line, skipping blanks and
// comment lines.
func readBatchFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var texts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		texts = append(texts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	return texts, nil
}
