package main

import (
	"github.com/spf13/cobra"

	"efile/internal/submission/models"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
)

type statusView struct {
	SubmissionID         string                `json:"submission_id"`
	FormType             string                `json:"form_type"`
	TaxYear              int                   `json:"tax_year"`
	Status               models.Status         `json:"status"`
	TransmissionAttempts int                   `json:"transmission_attempts"`
	RetryCount           int                   `json:"retry_count"`
	Error                *models.ErrorDetails  `json:"error,omitempty"`
	History              []models.HistoryEntry `json:"history"`
}

func (c *cli) statusCommand() *cobra.Command {
	var poll bool
	cmd := &cobra.Command{
		Use:   "status SUBMISSION_ID",
		Short: "Print a submission and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			subID, err := id.ParseSubmissionID(args[0])
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvalidInput, "submission id")
			}
			a, err := c.wire(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.tracker.Get(ctx, subID)
			if err != nil {
				return err
			}
			if poll && rec.Status == models.StatusTransmitted {
				if polled, _, err := a.tracker.Poll(ctx, subID); err == nil {
					rec = polled
				}
			}
			return printJSON(cmd.OutOrStdout(), statusView{
				SubmissionID:         rec.ID.String(),
				FormType:             string(rec.FormType),
				TaxYear:              rec.TaxYear,
				Status:               rec.Status,
				TransmissionAttempts: rec.TransmissionAttempts,
				RetryCount:           rec.RetryCount,
				Error:                rec.ErrorDetails,
				History:              rec.History,
			})
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "fetch the acknowledgment first when TRANSMITTED")
	return cmd
}
