package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "verifymail",
	Short: "Deliver verification code emails through SendGrid",
	Long: `verifymail sends verification code emails.

It reacts to new verification code records (DynamoDB stream or Kafka change
events), sends the email through SendGrid and records the outcome on the
record. A direct HTTP endpoint sends the same email without touching storage.

  verifymail serve       # trigger source + HTTP endpoint
  verifymail send        # one manual send from the command line
  verifymail bootstrap   # create the verification_codes table and stream

Configuration is read from the environment (and .env when present).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
