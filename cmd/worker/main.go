// Command worker is the inference worker binary the Manager spawns: one
// per loopback port, serving compute_inference/get_stats over a framed
// TCP RPC channel until its parent retires it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferd/dispatcher/internal/inference"
	"github.com/inferd/dispatcher/pkg/dispatch"
)

var rootCmd = &cobra.Command{
	Use:   "worker <port> <config_path> <model_path>",
	Short: "Run an inference worker process",
	Args:  cobra.ExactArgs(3),
	RunE:  runWorker,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	portArg, configPath, modelPath := args[0], args[1], args[2]

	port, err := strconv.ParseUint(portArg, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portArg, err)
	}

	cfg, err := dispatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := dispatch.NewLogger(cfg.Logging)
	logger.Info("worker starting", "port", port, "model_path", modelPath)

	var authSecret []byte
	if cfg.Worker.AuthSecretFile != "" {
		raw, err := os.ReadFile(cfg.Worker.AuthSecretFile)
		if err != nil {
			return fmt.Errorf("read worker auth secret: %w", err)
		}
		authSecret = dispatch.SecretFromString(strings.TrimSpace(string(raw)))
	}

	codec, err := dispatch.NewCodec(dispatch.CodecType(cfg.Worker.BodyCodec))
	if err != nil {
		return fmt.Errorf("configure body codec: %w", err)
	}

	model := inference.NewReferenceModel()
	server := dispatch.NewWorkerServer(model, authSecret, codec, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Serve(ctx, uint16(port)); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("worker stopped", "port", port)
	return nil
}
