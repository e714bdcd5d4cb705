package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/zapacademy/platform/internal/store/sqlite"
)

var (
	dbFile  string
	verbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbFile, "db", "", "entitlements.db", "path to the sqlite store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

var rootCmd = &cobra.Command{
	Use:   "adminctl",
	Short: "entitlement store CLI",
	Run: func(cmd *cobra.Command, args []string) {
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func openStore() (*sqlite.Repo, error) {
	return sqlite.New(dbFile)
}
