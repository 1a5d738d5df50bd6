package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "lfasrctl",
	Short:        "Submit media to the long-form transcription service and fetch results",
	SilenceUsage: true,
}

var (
	flagAppID      string
	flagSecretKey  string
	flagAPIHost    string
	flagAPIVersion string
	flagVerbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAppID, "app-id", "", "application id (defaults to XFYUN_APP_ID)")
	rootCmd.PersistentFlags().StringVar(&flagSecretKey, "secret-key", "", "application secret (defaults to XFYUN_SECRET_KEY)")
	rootCmd.PersistentFlags().StringVar(&flagAPIHost, "api-host", "https://raasr.xfyun.cn/v2/api", "remote API base URL")
	rootCmd.PersistentFlags().StringVar(&flagAPIVersion, "api-version", "v2", "remote API generation (v1 or v2)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}
