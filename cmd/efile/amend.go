package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"efile/internal/amendment"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
)

func (c *cli) amendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "amend SUBMISSION_ID CHANGES_FILE",
		Short: "File an amended return for an ACCEPTED submission",
		Long: "CHANGES_FILE is a JSON array of changes, e.g.\n" +
			`[{"op":"set","path":"ReturnData/IRS1040/Filer/USAddress/AddressLine1Txt","value":"2 Analytical Way"}]`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			original, err := id.ParseSubmissionID(args[0])
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvalidInput, "submission id")
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var changes []amendment.Change
			if err := json.Unmarshal(raw, &changes); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse "+args[1])
			}

			a, err := c.wire(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.amendments.CreateAmendment(ctx, original, changes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}
