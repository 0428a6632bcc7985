package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bubbleads",
		Short:         "Turn bubble-wide trending hashtags into Sharkey advertisements",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(trendsCmd())
	root.AddCommand(uploadsCmd())
	root.AddCommand(adsCmd())
	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())

	return root
}

func trendsCmd() *cobra.Command {
	var opts trendsOptions

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Aggregate trending tags across the bubble and select tags to advertise",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrends(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.selection, "select", "", `tags to keep by rank, e.g. "1-5,8" (default: top bubble.select)`)
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for the selection")
	cmd.Flags().IntVar(&opts.limitPerDomain, "limit-per-domain", 0, "trending tags to request per domain (default: from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the merged ranking as JSON")
	return cmd
}

func uploadsCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Pick one image per selected tag and store it on the Drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUploads(cmd.Context(), mode)
		},
	}

	cmd.Flags().StringVar(&mode, "dedup-mode", "", "reuse or rename (default: from config)")
	return cmd
}

func adsCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ads",
		Short: "Create or update one advertisement per uploaded tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAds(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the payloads without writing anything")
	return cmd
}

func runCmd() *cobra.Command {
	var (
		every string
		once  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run trends, uploads and ads in order, once or on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), every, once)
		},
	}

	cmd.Flags().StringVar(&every, "every", "", "interval between passes (default: schedule.interval)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only preview API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
