package main

import (
	"time"

	"github.com/spf13/cobra"

	"efile/internal/credential"
	dErrors "efile/pkg/domain-errors"
)

func (c *cli) keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the transmitter signing credential",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "generate",
			Short: "Create the credential when none exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m := c.credentials()
				if _, err := m.Load(); err == nil {
					return dErrors.New(dErrors.CodeConflict, "a credential already exists in "+c.cfg.Credentials.Dir+"; use keys rotate")
				}
				cred, err := m.Initialize(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewCredential(m, cred, nil))
			},
		},
		&cobra.Command{
			Use:   "rotate",
			Short: "Issue a new credential and archive the current one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m := c.credentials()
				cred, err := m.Rotate(cmd.Context())
				if err != nil {
					return err
				}
				archived, err := m.Archived()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewCredential(m, cred, archived))
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the active credential",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m := c.credentials()
				cred, err := m.Load()
				if err != nil {
					return err
				}
				archived, err := m.Archived()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewCredential(m, cred, archived))
			},
		},
	)
	return cmd
}

type credentialView struct {
	Serial    string    `json:"serial"`
	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	ValidNow  bool      `json:"valid_now"`
	KeyPath   string    `json:"key_path"`
	CertPath  string    `json:"cert_path"`
	Archived  []string  `json:"archived,omitempty"`
}

func viewCredential(m *credential.Manager, cred *credential.Credential, archived []string) credentialView {
	return credentialView{
		Serial:    cred.Serial,
		Subject:   cred.Certificate.Subject.String(),
		NotBefore: cred.NotBefore,
		NotAfter:  cred.NotAfter,
		ValidNow:  cred.ValidAt(time.Now()),
		KeyPath:   m.KeyPath(),
		CertPath:  m.CertPath(),
		Archived:  archived,
	}
}
