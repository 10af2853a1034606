package main

import (
	"github.com/spf13/cobra"

	"efile/internal/forms"
	"efile/internal/forms/formstest"
)

func (c *cli) sampleCommand() *cobra.Command {
	var asXML bool
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print a complete self-employed return to start from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := formstest.SelfEmployed()
			if asXML {
				svc := forms.NewService(forms.WithSoftwareID(c.cfg.Builder.SoftwareID), forms.WithLogger(c.logger))
				doc, err := sc.Build(cmd.Context(), svc)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(doc.Bytes())
				return err
			}

			f := returnFile{TaxYear: formstest.TaxYear}
			var err error
			if f.Primary, err = forms.Encode(sc.Primary); err != nil {
				return err
			}
			for _, in := range sc.Attachments {
				enc, err := forms.Encode(in)
				if err != nil {
					return err
				}
				f.Attachments = append(f.Attachments, enc)
			}
			return printJSON(cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().BoolVar(&asXML, "xml", false, "print the built return document instead of its JSON input")
	return cmd
}
