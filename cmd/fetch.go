package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"punchsync/config"
	"punchsync/timerec"
)

var fetchTimeout time.Duration

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the latest punch-clock snapshot.",
	Long: `Download the gzip'd TimeRecording snapshot shared on Google Drive
(timerec.google_file_id) and unpack it to timerec.database.

The previous snapshot is replaced only after a complete download.`,
	Example: `
  # Refresh the local snapshot
  punchsync fetch
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
		defer cancel()

		path, err := fetchSnapshot(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot saved: %s\n", path)
		return nil
	},
}

// fetchSnapshot downloads the snapshot to the configured database path.
func fetchSnapshot(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.TimeRec.GoogleFileID == "" {
		return "", fmt.Errorf("%s is not set", config.KeyTimeRecGoogleFileID)
	}
	path, err := configuredPath(config.KeyTimeRecDatabase, cfg.TimeRec.Database)
	if err != nil {
		return "", err
	}
	downloader, err := timerec.NewDownloader()
	if err != nil {
		return "", err
	}

	started := time.Now()
	if err := downloader.Download(ctx, cfg.TimeRec.GoogleFileID, path); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"path": path, "took": time.Since(started).Round(time.Millisecond)}).Debug("snapshot downloaded")
	return path, nil
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 5*time.Minute, "Maximum time for the download")
}
