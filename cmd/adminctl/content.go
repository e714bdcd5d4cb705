package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zapacademy/platform/internal/pricing"
)

var (
	contentKind        string
	contentPrice       int64
	contentOwnerPubkey string
	contentOwnerUser   string
	contentEventID     string
	contentAddress     string
)

func init() {
	contentAddCmd.Flags().StringVarP(&contentKind, "kind", "", "resource", "content kind: resource or course")
	contentAddCmd.Flags().Int64VarP(&contentPrice, "price", "", 0, "price in sats. Omit to leave the content unpurchasable")
	contentAddCmd.Flags().StringVarP(&contentOwnerPubkey, "owner-pubkey", "", "", "pubkey zap receipts must pay")
	contentAddCmd.Flags().StringVarP(&contentOwnerUser, "owner-user", "", "", "owning user id")
	contentAddCmd.Flags().StringVarP(&contentEventID, "event-id", "", "", "published event id receipts reference")
	contentAddCmd.Flags().StringVarP(&contentAddress, "address", "", "", "addressable kind:pubkey:d coordinate receipts reference")

	contentCmd.AddCommand(contentAddCmd)
	rootCmd.AddCommand(contentCmd)
}

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "manage content rows",
}

var contentAddCmd = &cobra.Command{
	Use:   "add <content-id>",
	Short: "register content and its price",
	Args:  cobra.ExactArgs(1),
	RunE:  doContentAdd,
}

func doContentAdd(cmd *cobra.Command, args []string) error {
	var kind pricing.ContentType
	switch contentKind {
	case "resource":
		kind = pricing.ContentResource
	case "course":
		kind = pricing.ContentCourse
	default:
		return fmt.Errorf("unsupported kind %q. must be 'resource' or 'course'", contentKind)
	}

	if contentOwnerPubkey == "" {
		return fmt.Errorf("must provide --owner-pubkey")
	}

	var price *int64
	if cmd.Flags().Changed("price") {
		if contentPrice < 0 {
			return fmt.Errorf("price must not be negative")
		}
		price = &contentPrice
	}

	repo, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	id := args[0]
	if err := repo.CreateContent(cmd.Context(), id, kind, price, contentOwnerPubkey, contentOwnerUser, contentEventID, contentAddress); err != nil {
		return err
	}

	if verbose {
		fmt.Printf("created %s %q\n", kind, id)
	}
	return nil
}
