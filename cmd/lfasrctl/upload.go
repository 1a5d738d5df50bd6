package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagUploadFile string
	flagUploadURL  string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Submit a media file or URL and print the job id",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (flagUploadFile == "") == (flagUploadURL == "") {
			return fmt.Errorf("exactly one of --file or --url is required")
		}

		c, err := buildComponents()
		if err != nil {
			return err
		}

		var taskID string
		if flagUploadFile != "" {
			taskID, err = c.uploader.SubmitFile(cmd.Context(), flagUploadFile, c.creds)
		} else {
			taskID, err = c.uploader.SubmitURL(cmd.Context(), flagUploadURL, c.creds)
		}
		if err != nil {
			return err
		}

		fmt.Println(taskID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&flagUploadFile, "file", "f", "", "path to a local audio or video file")
	uploadCmd.Flags().StringVarP(&flagUploadURL, "url", "u", "", "media URL for the remote service to fetch")

	rootCmd.AddCommand(uploadCmd)
}
