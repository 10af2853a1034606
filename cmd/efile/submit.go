package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"efile/internal/forms"
	"efile/internal/pipeline"
	"efile/internal/schedules"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
)

// returnFile is the JSON input of submit and the output of sample.
type returnFile struct {
	TaxYear     id.TaxYear               `json:"tax_year"`
	Primary     forms.Encoded            `json:"primary"`
	Attachments []forms.Encoded          `json:"attachments,omitempty"`
	Facts       *schedules.TaxpayerFacts `json:"facts,omitempty"`
}

func (f returnFile) request() (pipeline.Request, error) {
	year, err := id.NewTaxYear(int(f.TaxYear))
	if err != nil {
		return pipeline.Request{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "tax_year")
	}
	primary, err := forms.Decode(f.Primary)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{TaxYear: year, Primary: primary, Facts: f.Facts}
	for i, enc := range f.Attachments {
		in, err := forms.Decode(enc)
		if err != nil {
			return pipeline.Request{}, fmt.Errorf("attachment %d: %w", i, err)
		}
		req.Attachments = append(req.Attachments, in)
	}
	return req, nil
}

func loadReturnFile(path string) (pipeline.Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Request{}, err
	}
	var f returnFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return pipeline.Request{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse "+path)
	}
	return f.request()
}

func (c *cli) submitCommand() *cobra.Command {
	var (
		asDocument   bool
		resubmitOf   string
		waitForAck   time.Duration
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Build, validate, sign and transmit returns",
		Long: "Each FILE is a JSON return (see the sample command). With --document each FILE is a\n" +
			"serialized return, optionally gzip-compressed. Several files are filed concurrently.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.wire(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var results []pipeline.Result
			switch {
			case asDocument:
				for _, path := range args {
					data, err := readReturnFile(path)
					if err != nil {
						return err
					}
					results = append(results, a.pipeline.SubmitDocument(ctx, pipeline.DocumentRequest{Data: data}))
				}
			case resubmitOf != "":
				if len(args) != 1 {
					return dErrors.New(dErrors.CodeInvalidInput, "--resubmit-of takes exactly one file")
				}
				prev, err := id.ParseSubmissionID(resubmitOf)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInvalidInput, "--resubmit-of")
				}
				req, err := loadReturnFile(args[0])
				if err != nil {
					return err
				}
				results = append(results, a.pipeline.Resubmit(ctx, prev, req))
			default:
				reqs := make([]pipeline.Request, 0, len(args))
				for _, path := range args {
					req, err := loadReturnFile(path)
					if err != nil {
						return err
					}
					reqs = append(reqs, req)
				}
				results = a.pipeline.SubmitBatch(ctx, reqs)
			}

			views := make([]resultView, len(results))
			failed := false
			for i, res := range results {
				if waitForAck > 0 && res.Status == models.StatusTransmitted {
					res.Status = c.awaitAcknowledgment(ctx, a, res.SubmissionID, waitForAck, pollInterval)
				}
				views[i] = viewResult(res)
				failed = failed || !res.OK()
			}
			if err := printJSON(cmd.OutOrStdout(), views); err != nil {
				return err
			}
			if failed {
				return errNotFiled
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asDocument, "document", false, "treat each FILE as a serialized return")
	cmd.Flags().StringVar(&resubmitOf, "resubmit-of", "", "file FILE as a correction of a FAILED or REJECTED submission")
	cmd.Flags().DurationVar(&waitForAck, "wait", 0, "poll for the acknowledgment up to this long")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "acknowledgment poll interval with --wait")
	return cmd
}

// awaitAcknowledgment polls MeF until the submission leaves TRANSMITTED or
// the wait runs out, and returns the last status seen.
func (c *cli) awaitAcknowledgment(ctx context.Context, a *app, subID id.SubmissionID, wait, every time.Duration) models.Status {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	status := models.StatusTransmitted
	for {
		rec, done, err := a.tracker.Poll(ctx, subID)
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "acknowledgment poll failed", "submission_id", subID.String(), "error", err)
		case rec != nil:
			status = rec.Status
		}
		if done || status != models.StatusTransmitted {
			return status
		}
		select {
		case <-ctx.Done():
			return status
		case <-ticker.C:
		}
	}
}
