package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lfasr-relay/internal/poll"
)

var (
	flagTaskID   string
	flagWait     bool
	flagInterval time.Duration
	flagTimeout  time.Duration
	flagNoCache  bool
	flagOutput   string
)

var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Fetch a job's status and transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTaskID == "" {
			return fmt.Errorf("--task-id is required")
		}

		c, err := buildComponents()
		if err != nil {
			return err
		}

		var res *poll.Result
		if flagWait {
			res, err = c.poller.Wait(cmd.Context(), flagTaskID, c.creds, flagInterval, flagTimeout)
		} else {
			res, err = c.poller.Poll(cmd.Context(), flagTaskID, c.creds, !flagNoCache)
		}
		if err != nil {
			return err
		}

		switch res.Status {
		case poll.StatusCompleted:
			if flagOutput != "" {
				if err := os.WriteFile(flagOutput, []byte(res.Text), 0o644); err != nil {
					return fmt.Errorf("failed to write transcript: %w", err)
				}
				fmt.Fprintf(os.Stderr, "transcript written to %s\n", flagOutput)
				return nil
			}
			fmt.Println(res.Text)
		case poll.StatusProcessing:
			fmt.Println("processing")
		default:
			return fmt.Errorf("job %s: %s", flagTaskID, res.Status)
		}
		return nil
	},
}

func init() {
	resultCmd.Flags().StringVarP(&flagTaskID, "task-id", "t", "", "job id returned by upload")
	resultCmd.Flags().BoolVarP(&flagWait, "wait", "w", false, "poll until the job reaches a terminal state")
	resultCmd.Flags().DurationVar(&flagInterval, "interval", 10*time.Second, "pause between polls with --wait")
	resultCmd.Flags().DurationVar(&flagTimeout, "timeout", time.Hour, "give up after this long with --wait")
	resultCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "bypass the local result cache")
	resultCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write the transcript to a file instead of stdout")

	rootCmd.AddCommand(resultCmd)
}
