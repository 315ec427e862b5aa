package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/model/dto"
)

func newEnqueueAllCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue-all",
		Short: "Queue an analysis for every company with a website",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(opts)
			if err != nil {
				return err
			}
			defer d.close()

			resp, err := d.structureService.EnqueueAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("enqueue all: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d, skipped %d\n", resp.Enqueued, resp.Skipped)
			return nil
		},
	}
}

func newEnqueueCommand(opts *rootOptions) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue <company-id>",
		Short: "Force a re-analysis of one company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			companyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || companyID <= 0 {
				return fmt.Errorf("invalid company id %q", args[0])
			}
			if priority < 0 || priority > 10 {
				return fmt.Errorf("priority must be between 1 and 10")
			}

			d, err := openDeps(opts)
			if err != nil {
				return err
			}
			defer d.close()

			var p *int
			if priority > 0 {
				p = &priority
			}
			job, err := d.structureService.RequestRefresh(cmd.Context(), companyID, p)
			if err != nil {
				return err
			}
			renderJobs(cmd.OutOrStdout(), []*dto.JobStatusResponse{job})
			return nil
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "job priority, 1 (highest) to 10")
	return cmd
}

func newRequeueStaleCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "requeue-stale",
		Short: "Recover jobs stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(opts)
			if err != nil {
				return err
			}
			defer d.close()

			if olderThan <= 0 {
				olderThan = d.cfg.Queue.StaleAfter
			}
			requeued, failed, err := d.jobRepo.RequeueStale(cmd.Context(), olderThan)
			if err != nil {
				return fmt.Errorf("requeue stale: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d, failed %d\n", requeued, failed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of the last attempt (default queue.stale_after)")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [company-id]",
		Short: "Show queue depth, or the job of one company",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(opts)
			if err != nil {
				return err
			}
			defer d.close()

			if len(args) == 1 {
				companyID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid company id %q", args[0])
				}
				job, err := d.structureService.JobStatus(cmd.Context(), companyID)
				if err != nil {
					return err
				}
				renderJobs(cmd.OutOrStdout(), []*dto.JobStatusResponse{job})
				return nil
			}

			counts, err := d.jobRepo.CountByStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("count jobs: %w", err)
			}
			renderQueueCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}
}

var jobStatuses = []string{
	model.JobStatusQueued,
	model.JobStatusProcessing,
	model.JobStatusCompleted,
	model.JobStatusFailed,
}

func renderQueueCounts(w io.Writer, counts map[string]int64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Status", "Jobs"})

	seen := make(map[string]bool, len(jobStatuses))
	var total int64
	for _, s := range jobStatuses {
		seen[s] = true
		t.AppendRow(table.Row{s, counts[s]})
		total += counts[s]
	}
	// 其他版本写入的状态
	var extra []string
	for s := range counts {
		if !seen[s] {
			extra = append(extra, s)
		}
	}
	sort.Strings(extra)
	for _, s := range extra {
		t.AppendRow(table.Row{s, counts[s]})
		total += counts[s]
	}

	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}

func renderJobs(w io.Writer, jobs []*dto.JobStatusResponse) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Job", "Company", "Domain", "Status", "Priority", "Attempts", "Scheduled", "Error"})

	for _, j := range jobs {
		scheduled := "-"
		if j.ScheduledFor != nil {
			scheduled = j.ScheduledFor.UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			j.JobID,
			j.CompanyID,
			j.Domain,
			j.Status,
			j.Priority,
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
			scheduled,
			j.ErrorMessage,
		})
	}
	t.Render()
}
