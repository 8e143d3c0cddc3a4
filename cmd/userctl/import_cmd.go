package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/progress"
	"github.com/spf13/cobra"
)

type importOptions struct {
	file                 string
	populationID         string
	populationName       string
	continueOnUniqueness bool
	conflict             string
	fallbackPopulation   string
	detach               bool
}

type startImportResponse struct {
	SessionID    string `json:"sessionId"`
	TotalRecords int    `json:"totalRecords"`
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import users from a CSV file and follow the progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "CSV file to import (required)")
	cmd.Flags().StringVar(&opts.populationID, "population-id", "", "Population for users without one in the file")
	cmd.Flags().StringVar(&opts.populationName, "population-name", "", "Display name of --population-id")
	cmd.Flags().BoolVar(&opts.continueOnUniqueness, "continue-on-uniqueness", false, "Skip users that already exist instead of stopping")
	cmd.Flags().StringVar(&opts.conflict, "conflict", "ui", "Population conflict answer: csv or ui")
	cmd.Flags().StringVar(&opts.fallbackPopulation, "fallback-population", "", "Population for users whose population does not exist; the import is cancelled when empty")
	cmd.Flags().BoolVar(&opts.detach, "detach", false, "Print the session id and exit without following progress")

	_ = cmd.MarkFlagRequired("file")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.conflict != "csv" && opts.conflict != "ui" {
			return fmt.Errorf("invalid --conflict %q: must be csv or ui", opts.conflict)
		}
		return nil
	}

	return cmd
}

func runImport(ctx context.Context, root *rootOptions, opts importOptions, out io.Writer) error {
	api := root.client()

	var started startImportResponse
	err := api.upload(ctx, "/import", opts.file, map[string]string{
		"populationId":         opts.populationID,
		"populationName":       opts.populationName,
		"continueOnUniqueness": strconv.FormatBool(opts.continueOnUniqueness),
	}, &started)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Import session %s started (%d records)\n", started.SessionID, started.TotalRecords)
	if opts.detach {
		return nil
	}

	f := &follower{api: api, opts: opts, out: out, sessionID: started.SessionID}
	client := progress.NewClient(root.server, root.logger())
	return f.follow(ctx, client.Subscribe(ctx, started.SessionID))
}

// follower answers prompts and prints the progress of one import
type follower struct {
	api       *apiClient
	opts      importOptions
	out       io.Writer
	sessionID string
}

func (f *follower) follow(ctx context.Context, updates <-chan progress.Update) error {
	var result error
	for u := range updates {
		switch {
		case u.Err != nil && u.State == progress.StateClosed:
			if result == nil {
				result = u.Err
			}
		case u.Err != nil:
			fmt.Fprintf(f.out, "Progress channel: %v (retrying in %s)\n", u.Err, u.RetryIn)
		case u.State == progress.StateStalled:
			fmt.Fprintln(f.out, "No progress received for a while, still waiting...")
		}

		if u.Event == nil {
			continue
		}
		if err := f.handle(ctx, u.Event); err != nil && result == nil {
			result = err
		}
	}
	return result
}

func (f *follower) handle(ctx context.Context, ev *models.Event) error {
	switch p := ev.Payload.(type) {
	case *models.ProgressPayload:
		fmt.Fprintf(f.out, "[%d/%d] %s (success %d, failed %d, skipped %d)\n",
			p.Current, p.Total, p.Message, p.Counts.Success, p.Counts.Failed, p.Counts.Skipped)

	case *models.PopulationConflictPayload:
		useCSV := f.opts.conflict == "csv"
		fmt.Fprintf(f.out, "%d users name a population other than %s; using the %s population\n",
			p.CSVPopulationCount, p.UISelectedPopulation, f.opts.conflict)
		return f.api.postJSON(ctx, "/import/resolve-conflict", models.ResolveConflictRequest{
			SessionID:        f.sessionID,
			UseCSVPopulation: useCSV,
		}, nil)

	case *models.InvalidPopulationPayload:
		fmt.Fprintf(f.out, "%d users reference unknown populations %v\n", p.AffectedUserCount, p.InvalidPopulations)
		if f.opts.fallbackPopulation == "" {
			fmt.Fprintln(f.out, "No --fallback-population given, cancelling the import")
			return f.api.postJSON(ctx, "/import/cancel", models.CancelRequest{SessionID: f.sessionID}, nil)
		}
		return f.api.postJSON(ctx, "/import/resolve-invalid-population", models.ResolveInvalidPopulationRequest{
			SessionID:            f.sessionID,
			SelectedPopulationID: f.opts.fallbackPopulation,
		}, nil)

	case *models.CompletePayload:
		fmt.Fprintf(f.out, "%s\n", p.Message)
		if p.Counts.Failed > 0 || p.Counts.Skipped > 0 {
			fmt.Fprintf(f.out, "Details: userctl session %s --errors\n", f.sessionID)
		}

	case *models.ClosePayload:
		fmt.Fprintf(f.out, "%s (success %d, failed %d, skipped %d)\n",
			p.Message, p.Counts.Success, p.Counts.Failed, p.Counts.Skipped)

	case *models.ErrorPayload:
		err := errors.New(p.Message)
		for _, d := range p.Details {
			err = fmt.Errorf("%w; %s", err, d)
		}
		return err
	}
	return nil
}
