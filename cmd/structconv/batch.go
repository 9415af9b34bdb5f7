package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// =============================================================================
// 📦 batch 命令
// =============================================================================

type batchFlags struct {
	schemaPath  string
	inputPath   string
	concurrency int
	metricsAddr string
}

// batchLine 每个请求输出一行 JSON
type batchLine struct {
	Line      int                `json:"line"`
	RequestID string             `json:"request_id"`
	Outcome   pipeline.Outcome   `json:"outcome"`
	Attempts  int                `json:"attempts"`
	Cached    bool               `json:"cached,omitempty"`
	Value     map[string]any     `json:"value,omitempty"`
	Issues    []validation.Issue `json:"issues,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func (a *app) batchCmd() *cobra.Command {
	var f batchFlags
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Convert many seed prompts concurrently",
		Long: `Reads one seed prompt per line from --input (blank lines and lines starting
with # are skipped) and converts them with bounded concurrency. One JSON line
per seed is written to stdout in input order; a summary goes to stderr.
The command exits with status 2 when any conversion is exhausted.`,
		Example: `  structconv batch --schema person.yaml --input seeds.txt --concurrency 4
  structconv batch --schema person.yaml --input - --metrics-addr :9091 < seeds.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.schemaPath, "schema", "s", "", "schema file (YAML or JSON)")
	cmd.Flags().StringVarP(&f.inputPath, "input", "i", "-", `seed file, one per line ("-" for stdin)`)
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "n", 0, "max concurrent conversions (default pipeline.batch_concurrency)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func (a *app) runBatch(ctx context.Context, f batchFlags) error {
	desc, err := loadSchema(f.schemaPath)
	if err != nil {
		return err
	}

	r, closeFn, err := a.openInput(f.inputPath)
	if err != nil {
		return err
	}
	seeds, err := readLines(r)
	closeFn()
	if err != nil {
		return fmt.Errorf("read seeds: %w", err)
	}
	if len(seeds) == 0 {
		return types.NewConfigError("no seeds in %s", f.inputPath)
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	policy, err := cfg.Pipeline.Policy()
	if err != nil {
		return err
	}
	concurrency := f.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Pipeline.BatchConcurrency
	}

	rt, err := newRuntime(cfg, buildOptions{provider: a.provider, metricsAddr: f.metricsAddr})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	ctx, stop := signalContext(ctx)
	defer stop()

	chain := rt.newChain()
	reqs := make([]pipeline.Request, len(seeds))
	for i, seed := range seeds {
		reqs[i] = pipeline.Request{
			Label:      fmt.Sprintf("line-%d", i+1),
			Seed:       seed,
			Descriptor: desc,
			Chain:      chain,
			Policy:     policy,
		}
	}

	results, err := rt.orch.ConvertBatch(ctx, reqs, concurrency)
	if err != nil {
		return err
	}
	rt.recordPoolStats()

	enc := json.NewEncoder(a.stdout)
	for i, res := range results {
		if res == nil {
			continue
		}
		line := batchLine{
			Line:      i + 1,
			RequestID: res.RequestID,
			Outcome:   res.Outcome,
			Attempts:  len(res.Attempts),
			Cached:    res.Cached,
			Issues:    res.Issues,
		}
		if res.OK() {
			line.Value = res.Value
		} else {
			line.Error = res.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	summary := pipeline.Summarize(results)
	if data, err := json.Marshal(summary); err == nil {
		fmt.Fprintf(a.stderr, "summary: %s\n", data)
	}

	if summary.Failed > 0 {
		return types.NewError(types.ErrConversionExhausted,
			fmt.Sprintf("%d of %d conversions failed", summary.Failed, summary.Total))
	}
	return nil
}
