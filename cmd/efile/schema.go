package main

import (
	"os"

	"github.com/spf13/cobra"

	"efile/internal/consistency"
	"efile/internal/document"
	"efile/internal/forms"
	"efile/internal/platform/redis"
	dErrors "efile/pkg/domain-errors"
)

func (c *cli) schemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate serialized returns",
	}
	cmd.AddCommand(c.schemaValidateCommand(), c.schemaDetectCommand(), c.schemaRegisterCommand())
	return cmd
}

func (c *cli) schemaValidateCommand() *cobra.Command {
	var formType, version string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a return against its schema and the cross-schedule rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readReturnFile(args[0])
			if err != nil {
				return err
			}
			reg, err := c.schemaRegistry(ctx, nil)
			if err != nil {
				return err
			}
			ft := forms.FormType(formType)
			if ft == "" || version == "" {
				det, err := reg.DetectVersion(data)
				if err != nil {
					return err
				}
				if ft == "" {
					ft = det.FormType
				}
				if version == "" {
					version = det.Version
				}
			}

			outcome, err := reg.Validate(ctx, data, ft, version)
			if err != nil {
				return err
			}
			if outcome.IsValid {
				doc, err := document.ParseDocument(data)
				if err != nil {
					return err
				}
				calc, err := c.calculator()
				if err != nil {
					return err
				}
				outcome = outcome.Merge(calc.CheckConsistency(ctx, consistency.ScheduleSetFromDocument(doc)))
			}
			if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
			if !outcome.IsValid {
				return dErrors.Newf(dErrors.CodeValidation, "%s is not a valid %s %s return", args[0], ft, version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&formType, "form", "", "form type; detected when empty")
	cmd.Flags().StringVar(&version, "version", "", "schema version; detected when empty")
	return cmd
}

func (c *cli) schemaDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE",
		Short: "Print the form type and schema version a return declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readReturnFile(args[0])
			if err != nil {
				return err
			}
			reg, err := c.schemaRegistry(cmd.Context(), nil)
			if err != nil {
				return err
			}
			det, err := reg.DetectVersion(data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"form_type": string(det.FormType),
				"version":   det.Version,
				"namespace": det.Namespace,
			})
		},
	}
}

// schemaRegisterCommand publishes a definition to the shared Redis store so
// every replica loads it on its next start or lookup miss.
func (c *cli) schemaRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register FORM_TYPE VERSION FILE",
		Short: "Share a schema definition through Redis",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := forms.ParseFormType(args[0]); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvalidInput, "register schema")
			}
			source, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			rc, err := redis.New(ctx, c.cfg.Redis)
			if err != nil {
				return err
			}
			if rc == nil {
				return dErrors.New(dErrors.CodeConfiguration, "redis.url is required to share schemas")
			}
			defer rc.Close()
			reg, err := c.schemaRegistry(ctx, rc)
			if err != nil {
				return err
			}
			if err := reg.Register(ctx, args[0], args[1], source); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"form_type": args[0],
				"versions":  reg.Versions(args[0]),
			})
		},
	}
}
