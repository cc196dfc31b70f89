package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/quote-caller/internal/extraction"
	"github.com/ziadkadry99/quote-caller/internal/inbox"
	"github.com/ziadkadry99/quote-caller/internal/progress"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

var (
	extractQuoteRequest string
	extractSupplier     string
	extractInclude      []string
	extractExclude      []string
	extractCalls        []string
	extractPending      bool
	extractBatch        int
)

var extractCmd = &cobra.Command{
	Use:   "extract [reply-dir]",
	Short: "Extract quotes from supplier replies and finished calls",
	Long: `Runs quote extraction in the foreground.

With a directory argument, every supplier reply file under it (.eml, .txt,
.md, and PDF text saved as .pdf.txt) is stored as a reply to the given quote
request and supplier, then extracted. --call re-runs extraction for specific
calls and --pending drains every call and reply still awaiting extraction.
Extraction upserts, so re-running a source never duplicates quotes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && len(extractCalls) == 0 && !extractPending {
			return fmt.Errorf("nothing to extract: pass a reply directory, --call or --pending")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		runner, err := a.extractionRunner()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var jobs []extraction.Job
		if len(args) == 1 {
			replyJobs, err := importReplies(ctx, a.quotes, args[0])
			if err != nil {
				return err
			}
			jobs = append(jobs, replyJobs...)
		}
		for _, id := range extractCalls {
			jobs = append(jobs, extraction.Job{Kind: extraction.JobCall, ID: id})
		}
		if extractPending {
			pending, err := pendingJobs(ctx, a.quotes, extractBatch)
			if err != nil {
				return err
			}
			jobs = append(jobs, pending...)
		}
		jobs = dedupeJobs(jobs)

		if len(jobs) == 0 {
			fmt.Println("Nothing to extract.")
			return nil
		}

		reporter := progress.NewReporter("Extracting quotes")
		reporter.Start(len(jobs))
		done := 0
		reports := runner.RunAll(ctx, jobs, func(rep extraction.Report) {
			done++
			reporter.Update(done, describeReport(rep))
		})
		reporter.Finish()

		return printExtractionSummary(reports)
	},
}

// importReplies stores every reply file under dir and returns one job per
// stored reply.
func importReplies(ctx context.Context, store *quotes.Store, dir string) ([]extraction.Job, error) {
	if extractQuoteRequest == "" || extractSupplier == "" {
		return nil, fmt.Errorf("--quote-request and --supplier are required when importing replies")
	}
	if _, err := store.GetQuoteRequest(ctx, extractQuoteRequest); err != nil {
		return nil, err
	}
	if _, err := store.GetSupplier(ctx, extractSupplier); err != nil {
		return nil, err
	}

	files, err := inbox.Collect(inbox.Config{
		RootDir: dir,
		Include: extractInclude,
		Exclude: extractExclude,
	})
	if err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Found %d reply files in %s\n", len(files), dir)
	}

	jobs := make([]extraction.Job, 0, len(files))
	for _, f := range files {
		body, err := inbox.ReadBody(f)
		if err != nil {
			return nil, err
		}
		if body == "" {
			continue
		}
		reply, err := store.CreateReply(ctx, quotes.Reply{
			QuoteRequestID: extractQuoteRequest,
			SupplierID:     extractSupplier,
			Kind:           f.Kind,
			Body:           body,
		})
		if err != nil {
			return nil, fmt.Errorf("storing reply %s: %w", f.RelPath, err)
		}
		jobs = append(jobs, extraction.Job{Kind: extraction.JobReply, ID: reply.ID})
	}
	return jobs, nil
}

// pendingJobs lists the calls and replies still awaiting extraction.
func pendingJobs(ctx context.Context, store *quotes.Store, limit int) ([]extraction.Job, error) {
	calls, err := store.ListCallsByExtraction(ctx, quotes.ExtractionPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending calls: %w", err)
	}
	replies, err := store.ListPendingReplies(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending replies: %w", err)
	}

	jobs := make([]extraction.Job, 0, len(calls)+len(replies))
	for _, c := range calls {
		jobs = append(jobs, extraction.Job{Kind: extraction.JobCall, ID: c.ID})
	}
	for _, r := range replies {
		jobs = append(jobs, extraction.Job{Kind: extraction.JobReply, ID: r.ID})
	}
	return jobs, nil
}

func dedupeJobs(jobs []extraction.Job) []extraction.Job {
	seen := make(map[extraction.Job]bool, len(jobs))
	out := jobs[:0]
	for _, j := range jobs {
		if seen[j] {
			continue
		}
		seen[j] = true
		out = append(out, j)
	}
	return out
}

func describeReport(rep extraction.Report) string {
	if !rep.OK() {
		return fmt.Sprintf("%s %s: failed", rep.Job.Kind, rep.Job.ID)
	}
	return fmt.Sprintf("%s %s: %d quotes", rep.Job.Kind, rep.Job.ID, rep.Upserted)
}

// printExtractionSummary prints one line per failed job and the totals. It
// returns an error if any job failed so scripts can detect it.
func printExtractionSummary(reports []extraction.Report) error {
	var upserted, failed int
	for _, rep := range reports {
		if !rep.OK() {
			failed++
			fmt.Fprintf(os.Stderr, "  %s %s: %v\n", rep.Job.Kind, rep.Job.ID, rep.Err)
			continue
		}
		upserted += rep.Upserted
		if verbose && len(rep.Unmatched) > 0 {
			fmt.Fprintf(os.Stderr, "  %s %s: unmatched parts %v\n", rep.Job.Kind, rep.Job.ID, rep.Unmatched)
		}
	}

	fmt.Printf("Extraction complete: %d jobs, %d quotes upserted, %d failed\n", len(reports), upserted, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d extraction jobs failed", failed, len(reports))
	}
	return nil
}

func init() {
	extractCmd.Flags().StringVar(&extractQuoteRequest, "quote-request", "", "quote request the replies answer")
	extractCmd.Flags().StringVar(&extractSupplier, "supplier", "", "supplier that sent the replies")
	extractCmd.Flags().StringSliceVar(&extractInclude, "include", nil, "glob patterns of reply files to include (supports **)")
	extractCmd.Flags().StringSliceVar(&extractExclude, "exclude", nil, "glob patterns of reply files to skip")
	extractCmd.Flags().StringSliceVar(&extractCalls, "call", nil, "call log ids to re-extract")
	extractCmd.Flags().BoolVar(&extractPending, "pending", false, "extract every pending call and reply")
	extractCmd.Flags().IntVar(&extractBatch, "batch", 500, "maximum pending calls and replies to pick up")
	rootCmd.AddCommand(extractCmd)
}
