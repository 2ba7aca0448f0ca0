package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/processor"
)

const pollInterval = 250 * time.Millisecond

func newProcessCmd() *cobra.Command {
	var (
		sessionID    string
		sourceLang   string
		targetLang   string
		noThumbnails bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "process <file.pptx>...",
		Short: "Convert presentations and wait for the results",
		Long: `Process converts each file in its own job. With several files every job
gets its own session unless --session is given, in which case the session id
is suffixed with the file index.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rt, err := processor.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.Service.Start()
			defer rt.Service.Stop(false)

			var jobs []domain.JobStatus
			for i, path := range args {
				session := sessionID
				if session != "" && len(args) > 1 {
					session = fmt.Sprintf("%s-%d", sessionID, i+1)
				}
				st, err := submitFile(ctx, rt.Service, path, processor.SubmitRequest{
					SessionID:          session,
					SourceLanguage:     sourceLang,
					TargetLanguage:     targetLang,
					GenerateThumbnails: !noThumbnails,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				jobs = append(jobs, st)
			}

			final := follow(ctx, rt.Service, jobs, args)
			return report(final, args)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: generated)")
	cmd.Flags().StringVar(&sourceLang, "source-lang", "", "source language of the presentation")
	cmd.Flags().StringVar(&targetLang, "target-lang", "", "target language for translation")
	cmd.Flags().BoolVar(&noThumbnails, "no-thumbnails", false, "skip thumbnail generation")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")

	return cmd
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <jobId>",
		Short: "Retry a failed job and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := processor.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.Service.Start()
			defer rt.Service.Stop(false)

			st, err := rt.Service.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			ui.Info("Job %s queued for retry", st.JobID)

			final := follow(ctx, rt.Service, []domain.JobStatus{st}, []string{st.JobID})
			return report(final, []string{st.JobID})
		},
	}
}

// submitFile copies the file into the upload area so the original is never
// removed, then submits it.
func submitFile(ctx context.Context, svc *processor.Service, path string, req processor.SubmitRequest) (domain.JobStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.JobStatus{}, err
	}
	defer f.Close()

	req.JobID = uuid.NewString()
	staged, err := svc.StageUpload(req.JobID, filepath.Base(path), f)
	if err != nil {
		return domain.JobStatus{}, err
	}
	req.SourcePath = staged

	st, err := svc.Submit(ctx, req)
	if err != nil {
		os.RemoveAll(filepath.Dir(staged))
	}
	return st, err
}

// follow polls every job until it is terminal or ctx ends and returns the
// last status seen for each.
func follow(ctx context.Context, svc *processor.Service, jobs []domain.JobStatus, names []string) []domain.JobStatus {
	final := make([]domain.JobStatus, len(jobs))
	copy(final, jobs)

	bars := make([]JobBar, len(jobs))
	var multi *MultiProgress
	if len(jobs) == 1 {
		bars[0] = ui.NewJobBar(filepath.Base(names[0]))
	} else {
		multi = ui.NewMultiProgress()
		for i := range jobs {
			bars[i] = multi.Add(filepath.Base(names[i]))
		}
	}

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer bars[i].Done()

			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()
			for {
				st, err := svc.Status(ctx, jobs[i].JobID)
				if err == nil {
					final[i] = st
					bars[i].Update(st.Progress, st.CurrentStage)
					if st.State.IsTerminal() {
						return
					}
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
	wg.Wait()
	if multi != nil {
		multi.Wait()
	}
	return final
}

func report(jobs []domain.JobStatus, names []string) error {
	if outputJSON {
		if err := ui.JSON(jobs); err != nil {
			return err
		}
	}

	failed := 0
	for i, st := range jobs {
		switch st.State {
		case domain.JobStateCompleted:
			ui.Success("%s: %s", filepath.Base(names[i]), st.Message)
			ui.Field("job", st.JobID)
			ui.Field("session", st.SessionID)
			ui.Field("result", st.ResultLocation)
		case domain.JobStateFailed:
			failed++
			ui.Error("%s: %s", filepath.Base(names[i]), st.Error)
			ui.Field("job", st.JobID)
		default:
			failed++
			ui.Warning("%s: stopped while %s at %d%%", filepath.Base(names[i]), st.State, st.Progress)
			ui.Field("job", st.JobID)
		}
	}

	if failed > 0 {
		return errors.New(plural(failed, "job did not complete", "jobs did not complete"))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
