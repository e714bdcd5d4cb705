package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(enrollCmd)
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <pubkey> <course-id>",
	Short: "grant a pubkey course access without payment",
	Args:  cobra.ExactArgs(2),
	RunE:  doEnroll,
}

func doEnroll(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	pubkey, courseID := args[0], args[1]
	if err := repo.CreateEnrollment(cmd.Context(), pubkey, courseID); err != nil {
		return err
	}

	if verbose {
		fmt.Printf("enrolled %s in %s\n", pubkey, courseID)
	}
	return nil
}
