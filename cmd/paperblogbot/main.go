package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"PaperBlogBot/internal/app"
	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/logging"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "paperblogbot",
		Short:         "Research-paper blog assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is $PAPERBLOGBOT_CONFIG)")

	load := func(mode config.Mode) (config.Config, *zap.Logger, error) {
		cfg := config.Load()
		if cfgPath != "" {
			cfg = config.LoadFrom(cfgPath)
		}
		return cfg, logging.New(cfg.Logging.Level), cfg.Validate(mode)
	}

	root.AddCommand(serveCMD(load), consoleCMD(load), checkpointsCMD(load))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type loader func(mode config.Mode) (config.Config, *zap.Logger, error)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCMD(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the ops HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(config.ModeServe)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signalContext()
			defer stop()

			application, err := app.NewWorkflow(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Serve(ctx); err != nil {
				logger.Error("application stopped", zap.Error(err))
				return err
			}
			logger.Info("application stopped")
			return nil
		},
	}
}

func consoleCMD(load loader) *cobra.Command {
	var outDir string
	c := &cobra.Command{
		Use:   "console",
		Short: "Run the workflow interactively on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(config.ModeConsole)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signalContext()
			defer stop()

			application, err := app.NewWorkflow(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "Type a topic to start, /help for commands. Ctrl-D exits.")
			return application.Console(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), outDir)
		},
	}
	c.Flags().StringVar(&outDir, "out", ".", "directory for generated posts")
	return c
}

func checkpointsCMD(load loader) *cobra.Command {
	var (
		topic string
		limit int
	)
	c := &cobra.Command{
		Use:   "checkpoints",
		Short: "List saved resume points",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(config.ModeOps)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			recs, err := application.Checkpoints(ctx, topic, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTOPIC\tSESSION\tSTAGE\tCREATED")
			for _, rec := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", rec.Seq, rec.Topic, rec.SessionID, rec.Stage, rec.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&topic, "topic", "", "show only the latest record for this topic")
	c.Flags().IntVar(&limit, "limit", 5, "number of sessions to list")
	return c
}
