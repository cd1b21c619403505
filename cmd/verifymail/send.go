package main

import (
	"encoding/json"
	"os"

	"github.com/comnecter/verifymail/internal/application/delivery"
	"github.com/spf13/cobra"
)

var (
	sendEmail string
	sendCode  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one verification email without touching storage",
	Example: `  verifymail send --email user@example.com --code 123456
  SENDGRID_API_KEY=SG.xxx verifymail send --email user@example.com --code 123456`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendEmail, "email", "", "recipient email address")
	sendCmd.Flags().StringVar(&sendCode, "code", "", "verification code")
}

func runSend(cmd *cobra.Command, _ []string) error {
	a := newApp()
	defer func() { _ = a.log.Sync() }()

	resp, err := a.manualHandler().Send(cmd.Context(), delivery.ManualRequest{Email: sendEmail, Code: sendCode})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
