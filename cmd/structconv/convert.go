package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// =============================================================================
// 🔄 convert 命令
// =============================================================================

type convertFlags struct {
	schemaPath  string
	inputPath   string
	full        bool
	maxAttempts int
	coerce      bool
	reRequest   bool
}

func (a *app) convertCmd() *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert [seed text...]",
		Short: "Convert one seed prompt into a validated value",
		Long: `Sends the seed prompt plus format instructions for the schema to the model,
then parses, validates and retries until the answer passes.

The seed is taken from the arguments, or from --input ("-" reads stdin).
The value is printed as JSON; --full prints the whole result with the
attempt history. An exhausted conversion exits with status 2.`,
		Example: `  structconv convert --schema person.yaml "Jane Doe, 30, jane@example.com"
  echo "Jane Doe, 30" | structconv convert --schema person.yaml --input - --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd.Context(), f, args)
		},
	}

	cmd.Flags().StringVarP(&f.schemaPath, "schema", "s", "", "schema file (YAML or JSON)")
	cmd.Flags().StringVarP(&f.inputPath, "input", "i", "", `read the seed from a file ("-" for stdin)`)
	cmd.Flags().BoolVar(&f.full, "full", false, "print the full result including attempts")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 0, "override pipeline.max_attempts")
	cmd.Flags().BoolVar(&f.coerce, "coerce", false, "allow type coercion for coercible fields")
	cmd.Flags().BoolVar(&f.reRequest, "re-request", false, "ask again for failing fields after exhaustion")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func (a *app) runConvert(ctx context.Context, f convertFlags, args []string) error {
	desc, err := loadSchema(f.schemaPath)
	if err != nil {
		return err
	}

	seed, err := a.readSeed(f.inputPath, args)
	if err != nil {
		return err
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	policy, err := cfg.Pipeline.Policy()
	if err != nil {
		return err
	}
	if f.maxAttempts > 0 {
		policy.MaxAttempts = f.maxAttempts
	}
	if f.coerce {
		policy.AllowTypeCoercion = true
	}
	if f.reRequest {
		policy.ReRequestFailingFields = true
	}

	rt, err := newRuntime(cfg, buildOptions{provider: a.provider})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	ctx, stop := signalContext(ctx)
	defer stop()

	res, err := rt.orch.Convert(ctx, seed, desc, rt.newChain(), policy)
	if err != nil {
		return err
	}
	rt.recordPoolStats()

	if f.full {
		if err := a.writeJSON(res); err != nil {
			return err
		}
	} else if res.OK() {
		if err := a.writeJSON(res.Value); err != nil {
			return err
		}
	}

	if !res.OK() {
		for _, is := range res.Issues {
			fmt.Fprintf(a.stderr, "  [%s] %s\n", is.Severity, is.String())
		}
		return res.Err
	}
	for _, is := range res.SoftIssues() {
		fmt.Fprintf(a.stderr, "warning: %s\n", is.String())
	}
	return nil
}

// readSeed 从参数或输入文件读取种子提示
func (a *app) readSeed(inputPath string, args []string) (string, error) {
	if inputPath == "" {
		seed := strings.TrimSpace(strings.Join(args, " "))
		if seed == "" {
			return "", types.NewConfigError("a seed prompt is required (arguments or --input)")
		}
		return seed, nil
	}
	if len(args) > 0 {
		return "", types.NewConfigError("seed arguments and --input are mutually exclusive")
	}

	r, closeFn, err := a.openInput(inputPath)
	if err != nil {
		return "", err
	}
	defer closeFn()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read seed: %w", err)
	}
	seed := strings.TrimSpace(string(data))
	if seed == "" {
		return "", types.NewConfigError("seed input %s is empty", inputPath)
	}
	return seed, nil
}

func (a *app) openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return a.stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// readLines 读取非空行，支持 # 注释
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// signalContext 在收到 SIGINT/SIGTERM 时取消
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
