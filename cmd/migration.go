package cmd

import (
	"context"
	"fmt"

	crmDomain "github.com/evocrm/wabridge/crm/domain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run schema migrations and reconcile orphan messages",
	Long: `Applies the store schema and then re-attaches orphan messages whose
original ticket id points at a ticket that exists now.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		if err := ReconcileOrphanMessages(ctx, messageRepo, ticketRepo); err != nil {
			logrus.Fatalf("[MIGRATION] Reconciliation failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// ReconcileOrphanMessages walks messages persisted without a ticket
// reference and re-attaches those whose recorded original ticket id resolves
// to a real ticket. Messages whose reference never resolves stay orphaned;
// they are queryable and nothing is deleted.
func ReconcileOrphanMessages(ctx context.Context, messages crmDomain.MessageRepository, tickets crmDomain.TicketRepository) error {
	logrus.Info("[MIGRATION] Checking for orphan messages to reconcile...")

	orphans, err := messages.ListOrphans(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list orphan messages: %w", err)
	}
	if len(orphans) == 0 {
		logrus.Info("[MIGRATION] No orphan messages found.")
		return nil
	}

	reconciled := 0
	for _, msg := range orphans {
		originalID, _ := msg.Metadata["original_ticket_id"].(string)
		if originalID == "" {
			continue
		}

		ticket, err := tickets.GetByID(ctx, originalID)
		if err != nil || ticket == nil {
			continue
		}

		if err := messages.AttachTicket(ctx, msg.ID, ticket.ID); err != nil {
			logrus.Errorf("[MIGRATION] Failed to attach message %s to ticket %s: %v", msg.ID, ticket.ID, err)
			continue
		}
		reconciled++
	}

	if reconciled > 0 {
		logrus.Infof("[MIGRATION] Successfully reconciled %d orphan messages.", reconciled)
	} else {
		logrus.Infof("[MIGRATION] %d orphan messages remain unresolved.", len(orphans))
	}
	return nil
}
