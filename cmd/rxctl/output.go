package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jwalitptl/rx-portal/internal/model"
)

const dateLayout = "2006-01-02"

func writePrescriptions(w io.Writer, items []model.Prescription) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No prescriptions found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMEDICATION\tDOSAGE\tDOCTOR\tREFILLS\tNEXT REFILL\tSTATUS")
	for _, p := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.MedicationName, p.Dosage, p.PrescribingDoctor,
			p.RefillsRemaining, p.NextRefillDate.Format(dateLayout), p.Status)
	}
	return tw.Flush()
}

func writePrescription(w io.Writer, p *model.Prescription) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", p.ID)
	fmt.Fprintf(tw, "Medication:\t%s\n", p.MedicationName)
	fmt.Fprintf(tw, "Dosage:\t%s\n", p.Dosage)
	fmt.Fprintf(tw, "Instructions:\t%s\n", p.Instructions)
	fmt.Fprintf(tw, "Doctor:\t%s\n", p.PrescribingDoctor)
	fmt.Fprintf(tw, "Refills remaining:\t%d\n", p.RefillsRemaining)
	fmt.Fprintf(tw, "Next refill:\t%s\n", p.NextRefillDate.Format(dateLayout))
	fmt.Fprintf(tw, "Status:\t%s\n", p.Status)
	fmt.Fprintf(tw, "Updated:\t%s\n", p.UpdatedAt.Format("2006-01-02 15:04"))
	return tw.Flush()
}
