package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mdimage/internal/config"
	"mdimage/internal/models"
	"mdimage/internal/modules/downloader"
	"mdimage/internal/modules/extractor"
	"mdimage/internal/modules/filereader"
	"mdimage/internal/modules/persistence"
	"mdimage/internal/modules/pipeline"
	"mdimage/internal/modules/reporter"
)

// Execute now takes a context, a logger and the level the logger was built with
func Execute(ctx context.Context, logger *zap.Logger, level zap.AtomicLevel) {
	rootCmd := newRootCmd(ctx, logger, level)
	pflag.CommandLine.AddFlagSet(rootCmd.PersistentFlags())
	if err := rootCmd.Execute(); err != nil {
		logger.Error("execution failed", zap.Error(err))
		os.Exit(1)
	}
}

type cli struct {
	ctx        context.Context
	logger     *zap.Logger
	level      zap.AtomicLevel
	configPath string
	inputPath  string
}

func newRootCmd(ctx context.Context, logger *zap.Logger, level zap.AtomicLevel) *cobra.Command {
	c := &cli{ctx: ctx, logger: logger, level: level}

	rootCmd := &cobra.Command{
		Use:           "mdimage",
		Short:         "Download images referenced by Markdown image links",
		Long:          `A CLI tool that extracts ![description](url) image links from text and downloads each image into a local folder`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "List the image links found in the input text",
		Args:  cobra.NoArgs,
		RunE:  c.runExtract,
	}
	extractCmd.Flags().StringVarP(&c.inputPath, "input", "i", "", "Path to the text file (default stdin)")

	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Extract image links from the input text and download them",
		Args:  cobra.NoArgs,
		RunE:  c.runDownload,
	}
	downloadCmd.Flags().StringVarP(&c.inputPath, "input", "i", "", "Path to the text file (default stdin)")
	downloadCmd.Flags().StringP("dest", "d", "", "Destination directory (default <executable dir>/image)")
	downloadCmd.Flags().Duration("timeout", 0, "Per-request timeout (default 10s)")
	downloadCmd.Flags().Duration("delay", 0, "Pause after each image (default 100ms)")
	downloadCmd.Flags().Int("chunk-size", 0, "Bytes written per chunk (default 1024)")
	downloadCmd.Flags().Bool("no-progress", false, "Do not draw the progress bar")

	rootCmd.AddCommand(extractCmd, downloadCmd)
	return rootCmd
}

// prepare loads the configuration, applies the log level and extracts the
// links from the input text.
func (c *cli) prepare(cmd *cobra.Command) (*config.Config, models.LinkList, error) {
	cfg, err := config.Load(c.configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	c.level.SetLevel(cfg.Level())

	text, err := filereader.New(c.inputPath, cmd.InOrStdin()).ReadText(c.ctx, c.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("read input: %w", err)
	}

	links := extractor.Extract(text)
	c.logger.Debug("links extracted", zap.Int("count", len(links)))
	fmt.Fprintln(cmd.OutOrStdout(), extractor.Listing(links))
	return cfg, links, nil
}

func (c *cli) runExtract(cmd *cobra.Command, args []string) error {
	_, _, err := c.prepare(cmd)
	return err
}

func (c *cli) runDownload(cmd *cobra.Command, args []string) error {
	cfg, links, err := c.prepare(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	p := pipeline.New(
		downloader.New(cfg.Timeout, c.logger),
		func(dir string) pipeline.Persister {
			return persistence.New(dir, cfg.ChunkSize, c.logger)
		},
		pipeline.Options{Delay: cfg.Delay},
		c.logger,
	)

	events, err := p.Start(c.ctx, models.RunContext{Links: links, DestDir: cfg.DestDir})
	if errors.Is(err, pipeline.ErrNoLinks) {
		c.logger.Warn("nothing to download")
		fmt.Fprintln(out, "Warning: No image links to download")
		return nil
	}
	if err != nil {
		return err
	}

	var progressOut io.Writer
	if cfg.Progress {
		progressOut = cmd.ErrOrStderr()
	}
	rep := reporter.New(reporter.Options{Output: out, ProgressOutput: progressOut}, c.logger)

	summary, done := rep.Consume(events)
	if !done {
		return errors.New("download run ended without a summary")
	}
	c.logger.Info("processing completed",
		zap.Int("successful", summary.SuccessCount),
		zap.Int("total", summary.Total),
		zap.String("dest_dir", summary.DestDir))
	return nil
}
