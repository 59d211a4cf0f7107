package main

import (
	"fmt"

	"github.com/jengzang/geotrust/internal/catalog"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Manage the region catalog",
}

var regionsDryRun bool

var regionsImportCmd = &cobra.Command{
	Use:   "import <file.geojson>",
	Short: "Validate a GeoJSON catalog and store its regions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		regions, err := catalog.FileProvider{Path: args[0]}.Regions(ctx)
		if err != nil {
			return err
		}

		if regionsDryRun {
			valid, rejected := catalog.Validate(regions)
			for _, r := range rejected {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %s: %v\n", r.RegionID, r.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d valid, %d rejected\n", len(valid), len(rejected))
			return nil
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Services.Regions.Import(ctx, regions)
		if err != nil {
			return eris.Wrap(err, "import regions")
		}
		for _, r := range res.Rejected {
			zap.L().Warn("region rejected", zap.String("region_id", r.RegionID), zap.Error(r.Err))
		}
		zap.L().Info("regions imported",
			zap.String("file", args[0]),
			zap.Int("imported", res.Imported),
			zap.Int("rejected", len(res.Rejected)),
		)
		return nil
	},
}

func init() {
	regionsImportCmd.Flags().BoolVar(&regionsDryRun, "dry-run", false, "validate only, do not store")
	regionsCmd.AddCommand(regionsImportCmd)
	rootCmd.AddCommand(regionsCmd)
}
