package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/cache"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/jobstatus"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/processor"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/render"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/storage"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show a job's status from the snapshot store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := jobstatus.NewStore(cfg.Status.SnapshotDir, logger)
			if err != nil {
				return err
			}
			st, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return ui.JSON(st)
			}
			printStatus(st)
			return nil
		},
	}
}

func printStatus(st domain.JobStatus) {
	switch st.State {
	case domain.JobStateCompleted:
		ui.Success("Job %s completed", st.JobID)
	case domain.JobStateFailed:
		ui.Error("Job %s failed", st.JobID)
	default:
		ui.Info("Job %s is %s", st.JobID, st.State)
	}
	ui.Field("session", st.SessionID)
	ui.Field("progress", fmt.Sprintf("%d%%", st.Progress))
	ui.Field("stage", st.CurrentStage)
	if st.SlideCount > 0 {
		ui.Field("slides", st.SlideCount)
	}
	if st.Message != "" {
		ui.Field("message", st.Message)
	}
	if st.Error != "" {
		ui.Field("error", st.Error)
	}
	if st.ResultLocation != "" {
		ui.Field("result", st.ResultLocation)
	}
	ui.Field("updated", st.UpdatedAt.Local().Format(time.RFC3339))
}

func newResultCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "result <sessionId>",
		Short: "Fetch the result document of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := processor.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			doc, err := rt.Service.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output != "" {
				data, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return err
				}
				ui.Success("Wrote %s", output)
				return nil
			}
			if outputJSON {
				return ui.JSON(doc)
			}

			ui.Success("Session %s: %d slides (%s)", doc.SessionID, doc.SlideCount, doc.OverallStatus)
			for _, s := range doc.Slides {
				if s.Placeholder {
					ui.Warning("slide %d: %s", s.SlideNumber, s.Error)
					continue
				}
				ui.Field(fmt.Sprintf("slide %d", s.SlideNumber), fmt.Sprintf("%d shapes  %s", len(s.Shapes), s.VectorImageReference))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result JSON to this file")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [key]",
		Short: "Remove one cache entry or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cache.NewClientFromConfig(cmd.Context(), cfg.Cache)
			if err != nil {
				return err
			}
			defer client.Close()
			store := cache.NewResultStore(client, logger, cache.ResultStoreConfig{TTL: cfg.Cache.TTL})

			if len(args) == 1 {
				if !store.Clear(cmd.Context(), args[0]) {
					return fmt.Errorf("failed to clear cache entry %s", args[0])
				}
				ui.Success("Cleared cache entry %s", args[0])
				return nil
			}
			if !store.ClearAll(cmd.Context()) {
				return fmt.Errorf("failed to clear cache")
			}
			ui.Success("Cleared all cache entries")
			return nil
		},
	})
	return cmd
}

type checkResult struct {
	Component string `json:"component"`
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Diagnose the renderer, directories and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var results []checkResult

			stop := ui.Spinner("Checking LibreOffice renderer...")
			renderer := render.NewLibreOffice(cfg.Renderer.LibreOfficePath, cfg.Renderer.Timeout, logger)
			err := renderer.Check(ctx)
			stop()
			results = append(results, outcome("renderer", cfg.Renderer.LibreOfficePath, err))

			results = append(results,
				outcome("upload_dir", cfg.Processing.UploadDir, writable(cfg.Processing.UploadDir)),
				outcome("work_dir", cfg.Processing.WorkDir, writable(cfg.Processing.WorkDir)),
			)

			stop = ui.Spinner("Checking database...")
			results = append(results, outcome("database", cfg.Database.Driver, pingDatabase(ctx)))
			stop()

			if outputJSON {
				if err := ui.JSON(results); err != nil {
					return err
				}
			}

			failed := 0
			for _, r := range results {
				if r.OK {
					ui.Success("%-10s %s", r.Component, r.Message)
					continue
				}
				failed++
				ui.Error("%-10s %s", r.Component, r.Message)
			}
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

func outcome(component, subject string, err error) checkResult {
	if err != nil {
		return checkResult{Component: component, Message: domain.UserMessage(err)}
	}
	return checkResult{Component: component, OK: true, Message: subject}
}

func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func pingDatabase(ctx context.Context) error {
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
