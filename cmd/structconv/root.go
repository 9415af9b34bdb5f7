package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iWaraxe/L3StructuredOutput-sub000/config"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// 退出码
const (
	exitFailure   = 1
	exitExhausted = 2
	exitConfig    = 3
)

// app 命令行应用，持有输入输出与全局选项
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	envPrefix  string

	// provider 非空时替换配置中的提供方
	provider llm.Provider
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		envPrefix: config.DefaultEnvPrefix,
	}
}

// rootCmd 构建命令树
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "structconv",
		Short: "Turn free-form model output into validated structured data",
		Long: `structconv asks a language model for output matching a schema, parses and
validates the answer, and retries with modified prompts until the value passes
or the attempt budget runs out.

Configuration is read from defaults, then an optional YAML file, then
STRUCTCONV_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(
		a.convertCmd(),
		a.batchCmd(),
		a.instructionsCmd(),
		a.historyCmd(),
		a.versionCmd(),
	)
	return root
}

// loadConfig 加载配置
func (a *app) loadConfig() (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix(a.envPrefix)
	if a.configPath != "" {
		loader = loader.WithConfigPath(a.configPath)
	}
	return loader.Load()
}

// loadSchema 从 YAML/JSON 文件读取 Descriptor
func loadSchema(path string) (*schema.Descriptor, error) {
	if path == "" {
		return nil, types.NewSchemaError("--schema is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewSchemaError("read schema %s", path).WithCause(err)
	}
	return schema.Parse(data)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode 将错误映射为进程退出码
func exitCode(err error) int {
	var failure *pipeline.FailureError
	switch {
	case errors.As(err, &failure):
		return exitExhausted
	case types.IsErrorCode(err, types.ErrConversionExhausted):
		return exitExhausted
	case types.IsErrorCode(err, types.ErrInvalidConfig),
		types.IsErrorCode(err, types.ErrInvalidSchema),
		types.IsErrorCode(err, types.ErrInvalidPolicy):
		return exitConfig
	default:
		return exitFailure
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "structconv %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
			return err
		},
	}
}
