// =============================================================================
// structconv 命令行入口
// =============================================================================
// 使用方法:
//
//	structconv convert --schema person.yaml "Jane Doe, 30, jane@example.com"
//	structconv batch --schema person.yaml --input seeds.txt --concurrency 8
//	structconv instructions --schema person.yaml --variant simplify
//	structconv history recent --outcome exhausted
//	structconv version
// =============================================================================

package main

import (
	"fmt"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
