package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var homeworkCmd = &cobra.Command{
	Use:   "homework",
	Short: "Home/work location analysis",
}

var (
	homeworkUsers []int64
	homeworkSince time.Duration
)

var homeworkRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run home/work analysis for users with readings in the window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		window := homeworkSince
		if window == 0 {
			window = cfg.HomeWork.Window
		}
		end := time.Now().UTC()
		start := end.Add(-window)

		succeeded, failed, err := env.Services.HomeWork.AnalyzeUsers(ctx, homeworkUsers, start, end)
		if err != nil {
			return eris.Wrap(err, "home/work batch")
		}

		zap.L().Info("home/work batch complete",
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
			zap.Time("window_start", start),
			zap.Time("window_end", end),
		)
		if failed > 0 {
			return eris.Errorf("home/work analysis failed for %d users", failed)
		}
		return nil
	},
}

func init() {
	homeworkRunCmd.Flags().Int64SliceVar(&homeworkUsers, "user", nil, "user IDs to analyze (default: every user with readings)")
	homeworkRunCmd.Flags().DurationVar(&homeworkSince, "since", 0, "analysis window length (default from config)")
	homeworkCmd.AddCommand(homeworkRunCmd)
	rootCmd.AddCommand(homeworkCmd)
}
