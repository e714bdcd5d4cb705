package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(purchasesCmd)
}

var purchasesCmd = &cobra.Command{
	Use:   "purchases <pubkey>",
	Short: "list purchases for a pubkey",
	Args:  cobra.ExactArgs(1),
	RunE:  doPurchases,
}

func doPurchases(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	purchases, err := repo.ListPurchases(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Content\tPaid\tSnapshot\tReceipts\n")

	for _, p := range purchases {
		contentID := ""
		switch {
		case p.ResourceID != nil:
			contentID = *p.ResourceID
		case p.CourseID != nil:
			contentID = *p.CourseID
		}

		snapshot := "-"
		if p.PriceAtPurchase != nil {
			snapshot = fmt.Sprintf("%d", *p.PriceAtPurchase)
		}

		fmt.Printf("%s\t%d\t%s\t%d\n", contentID, p.AmountPaid, snapshot, len(p.ReceiptIDs))
	}

	return nil
}
