package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング (Ctrl+C などで安全に終了するため)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("シグナル '%v' を受信しました。ステップの停止を試みます...", sig)
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCommand := &cobra.Command{
		Use:           "cursorbatch",
		Short:         "Cursor-based chunk batch runner.",
		Long:          `Streams the rows of a mapped query through a chunk step and writes them with a mapped statement.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	rootCommand.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "application.yaml", "path to the application config file")
	rootCommand.PersistentFlags().StringVar(&opts.envFile, "env-file", envFile, "path to a .env file loaded before the config")

	rootCommand.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
	)
	return rootCommand
}
