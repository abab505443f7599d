package cmd

import (
	"fmt"

	"github.com/aweris/blefs/internal/compression"
	"github.com/aweris/blefs/internal/config"
	"github.com/aweris/blefs/internal/remote"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pushCmd = &cobra.Command{
	Use:   "push <ref>",
	Short: "Push the store to an OCI registry",
	Long:  "Pack every file of the local store into zstd layers and push them as one image.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Pull the store from an OCI registry",
	Long: "Download the layers whose contents differ from the local store and write " +
		"their files. Local files missing from the image are kept.",
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pushCmd, pullCmd)
}

func openMirror(ref string, cfg *config.Config, log *zap.Logger) (*remote.Mirror, func(), error) {
	codec, err := compression.New(cfg.Mirror.Level)
	if err != nil {
		return nil, nil, err
	}
	m, err := remote.New(ref, codec,
		remote.WithConcurrency(cfg.Mirror.Concurrency),
		remote.WithLogger(log.Named("mirror")),
		remote.WithAuthenticator(remote.BasicAuthenticator{
			Username: cfg.Mirror.Username,
			Password: cfg.Mirror.Password,
		}),
	)
	if err != nil {
		codec.Close()
		return nil, nil, err
	}
	return m, func() { codec.Close() }, nil
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	m, done, err := openMirror(args[0], cfg, log)
	if err != nil {
		return err
	}
	defer done()

	stats, err := m.Push(cmd.Context(), st)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Pushed %d files in %d layers to %s\n", stats.Files, stats.Layers, m)
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	m, done, err := openMirror(args[0], cfg, log)
	if err != nil {
		return err
	}
	defer done()

	stats, err := m.Pull(cmd.Context(), st)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Pulled %d files from %d layers of %s\n", stats.Files, stats.Layers, m)
	return nil
}
