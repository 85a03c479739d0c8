package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	openqalocal "github.com/gophersatwork/openqa-log-local"
)

// notFound reports whether an error means "the thing simply isn't there",
// which the CLI maps to empty output and a zero exit code.
func notFound(err error) bool {
	return errors.Is(err, openqalocal.ErrJobNotFound) || errors.Is(err, openqalocal.ErrLogNotFound)
}

func newGetDetailsCmd(v *viper.Viper, logger *logrus.Logger) *cobra.Command {
	var jobID int64

	cmd := &cobra.Command{
		Use:   "get-details",
		Short: "Print a job's details document as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(v, logger)
			if err != nil {
				return err
			}

			details, err := svc.Details(cmd.Context(), strconv.FormatInt(jobID, 10))
			if notFound(err) {
				return nil
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(details, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode details: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().Int64Var(&jobID, "job-id", 0, "numeric openQA job id")
	cmd.MarkFlagRequired("job-id")
	return cmd
}

func newGetLogListCmd(v *viper.Viper, logger *logrus.Logger) *cobra.Command {
	var (
		jobID       int64
		namePattern string
	)

	cmd := &cobra.Command{
		Use:   "get-log-list",
		Short: "List the log files of a finished job, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(v, logger)
			if err != nil {
				return err
			}

			files, err := svc.LogList(cmd.Context(), strconv.FormatInt(jobID, 10), namePattern)
			if notFound(err) {
				return nil
			}
			if err != nil {
				return err
			}

			for _, file := range files {
				fmt.Fprintln(cmd.OutOrStdout(), file)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&jobID, "job-id", 0, "numeric openQA job id")
	cmd.Flags().StringVar(&namePattern, "name-pattern", "", "regular expression filtering log file names")
	cmd.MarkFlagRequired("job-id")
	return cmd
}

func newGetLogDataCmd(v *viper.Viper, logger *logrus.Logger) *cobra.Command {
	var (
		jobID    int64
		filename string
	)

	cmd := &cobra.Command{
		Use:   "get-log-data",
		Short: "Print the content of one log file of a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(v, logger)
			if err != nil {
				return err
			}

			data, err := svc.LogData(cmd.Context(), strconv.FormatInt(jobID, 10), filename)
			if notFound(err) {
				return nil
			}
			if err != nil {
				return err
			}

			cmd.OutOrStdout().Write(data)
			return nil
		},
	}

	cmd.Flags().Int64Var(&jobID, "job-id", 0, "numeric openQA job id")
	cmd.Flags().StringVar(&filename, "filename", "", "log file name as shown by get-log-list")
	cmd.MarkFlagRequired("job-id")
	cmd.MarkFlagRequired("filename")
	return cmd
}

func newStatsCmd(v *viper.Viper, logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache usage for the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(v, logger)
			if err != nil {
				return err
			}

			stats, err := svc.Cache().Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Jobs cached:   %d\n", stats.Entries)
			fmt.Fprintf(out, "Total size:    %d bytes (bound %d)\n", stats.TotalSize, stats.MaxSize)
			if stats.Entries > 0 {
				fmt.Fprintf(out, "Oldest entry:  %s ago\n", stats.OldestEntry.Round(time.Second))
				fmt.Fprintf(out, "Newest entry:  %s ago\n", stats.NewestEntry.Round(time.Second))
			}
			return nil
		},
	}
}

func newPruneCmd(v *viper.Viper, logger *logrus.Logger) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cached jobs older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(v, logger)
			if err != nil {
				return err
			}

			removed, err := svc.Cache().Prune(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age threshold, e.g. 720h")
	return cmd
}
