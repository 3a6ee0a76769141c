package main

import (
	"github.com/spf13/cobra"

	"intracal/internal/capture"
	appLog "intracal/internal/log"
)

var (
	snapshotURL string
	snapshotOut string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the month page as a PNG once",
	Long: `Loads the month page in headless Chromium and writes a PNG screenshot.
By default it captures the running "intracal serve" instance at the
configured listen address and writes to snapshot.output_path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := snapshotOptions(cfg, snapshotURL, snapshotOut)
		if err := capture.CapturePNG(cmd.Context(), opts); err != nil {
			return err
		}
		appLog.Info("snapshot written", "path", opts.OutputPath)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotURL, "url", "", "page to capture (default: this instance's /calendario/)")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "output PNG path (default: snapshot.output_path)")
}
