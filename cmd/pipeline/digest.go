package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"podpipe/internal/config"
	"podpipe/internal/digest"
	"podpipe/internal/mailer"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Email digest debug commands",
}

var digestTestSendCmd = &cobra.Command{
	Use:   "test-send <user_id>",
	Short: "Render and send one user's digest immediately, bypassing schedule and cooldown",
	Args:  cobra.ExactArgs(1),
	RunE:  runDigestTestSend,
}

func init() {
	digestCmd.AddCommand(digestTestSendCmd)
}

func runDigestTestSend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	user, err := repo.GetUser(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	worker := digest.New(repo, mailer.StdoutMailer{W: cmd.OutOrStdout()}, config.WebBaseURL)
	if err := worker.SendTestDigest(ctx, user); err != nil {
		return fmt.Errorf("send test digest: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "test digest sent to %s\n", user.Email)
	return nil
}
