package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	courseCmd.AddCommand(courseAddCmd)
	rootCmd.AddCommand(courseCmd)
}

var courseCmd = &cobra.Command{
	Use:   "course",
	Short: "manage course membership",
}

var courseAddCmd = &cobra.Command{
	Use:   "add <course-id> <resource-id>...",
	Short: "add resources to a course",
	Args:  cobra.MinimumNArgs(2),
	RunE:  doCourseAdd,
}

func doCourseAdd(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	courseID := args[0]
	for _, resourceID := range args[1:] {
		if err := repo.AddCourseResource(cmd.Context(), courseID, resourceID); err != nil {
			return fmt.Errorf("add %q to %q: %w", resourceID, courseID, err)
		}
		if verbose {
			fmt.Printf("added %s to %s\n", resourceID, courseID)
		}
	}

	return nil
}
