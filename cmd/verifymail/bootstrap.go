package main

import (
	"fmt"

	"github.com/comnecter/verifymail/internal/infrastructure/dynamo"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the verification codes table with a NEW_IMAGE stream",
	RunE:  runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	a := newApp()
	cfg := a.cfg
	defer func() { _ = a.log.Sync() }()

	awsCfg, err := dynamo.LoadAWSConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	client := dynamo.NewClient(awsCfg, cfg)
	dynamo.Bootstrap(cmd.Context(), client, cfg.DynamoTables, a.log.Sugar().Named("dynamo"))

	arn, err := dynamo.LatestStreamARN(cmd.Context(), client, cfg.DynamoTables.VerificationCodes)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), arn)
	return nil
}
