package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-portal/internal/history"
	"github.com/jwalitptl/rx-portal/internal/model"
)

func newListCmd(sess *session) *cobra.Command {
	var search, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prescriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := model.PrescriptionListFilters{
				Search: search,
				Status: model.PrescriptionStatus(strings.ToLower(status)),
			}
			if filters.Status != "" && !filters.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			if err := sess.store.SetFilters(cmd.Context(), filters); err != nil {
				return err
			}
			return writePrescriptions(cmd.OutOrStdout(), sess.store.State().Prescriptions)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Match medication or doctor name")
	cmd.Flags().StringVar(&status, "status", "", "Only show active, refill_requested or expired")
	return cmd
}

func newShowCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one prescription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sess.store.FetchPrescriptionByID(cmd.Context(), args[0]); err != nil {
				return err
			}
			p := sess.store.State().SelectedPrescription
			if p == nil {
				return fmt.Errorf("prescription %s not found", args[0])
			}
			return writePrescription(cmd.OutOrStdout(), p)
		},
	}
}

func newRefillCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "refill <id>",
		Short: "Request a refill for an active prescription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := sess.store.RequestRefill(cmd.Context(), id); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range sess.store.State().Prescriptions {
				if p.ID == id {
					fmt.Fprintf(out, "Refill requested for %s (%s), status %s\n", p.MedicationName, p.ID, p.Status)
					return nil
				}
			}
			fmt.Fprintf(out, "Refill requested for %s\n", id)
			return nil
		},
	}
}

func newHistoryCmd(sess *session) *cobra.Command {
	var (
		page, pageSize int
		padding        bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List expired and refill-requested prescriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sess.store.SetFilters(cmd.Context(), model.PrescriptionListFilters{}); err != nil {
				return err
			}

			cfg := sess.cfg.History.Padding
			policy := history.PolicyFor(padding || cfg.Enabled, cfg.Threshold, cfg.Size)
			rows, pg := history.Paginate(sess.store.History(policy), page, pageSize)

			out := cmd.OutOrStdout()
			if err := writePrescriptions(out, rows); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nPage %d of %d (%d records)\n", pg.Page, pg.TotalPage, pg.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", history.DefaultPageSize, "Rows per page: 20, 50 or 100")
	cmd.Flags().BoolVar(&padding, "padding", false, "Pad a sparse history with demo rows")
	return cmd
}
