package main

import (
	"fmt"

	"github.com/pysugar/shelflife/internal/app"
	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/jobs"
	"github.com/spf13/cobra"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var productType string

	cmd := &cobra.Command{
		Use:   "enrich <gtin>",
		Short: "Fetch TBDB data for one product now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				p, _, err := db.FindOrCreateProduct(cmd.Context(), a.DB, args[0], db.ProductInput{
					ProductType: models.ProductType(productType),
				})
				if err != nil {
					return err
				}

				// A running server shares the gate through the lock dir.
				release, err := a.Gate.Acquire(cmd.Context(), jobs.TBDBAccessKey)
				if err != nil {
					return err
				}
				defer release()

				p, err = a.Enrichment.Call(cmd.Context(), p, force)
				if err != nil {
					return fmt.Errorf("enrich %s: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderProduct(p))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Refetch even if the product is already enriched")
	cmd.Flags().StringVar(&productType, "type", "", "Product type for a new product (book, dvd, board_game)")
	return cmd
}

func renderProduct(p *models.Product) string {
	state := p.Enrichment()
	rows := [][]string{
		{"GTIN", p.GTIN},
		{"Title", p.DisplayTitle()},
		{"Author", p.Author},
		{"Publisher", p.Publisher},
		{"Genre", p.Genre},
		{"Cover", p.CoverImagePath},
		{"TBDB status", string(state.Status)},
	}
	if state.Message != "" {
		rows = append(rows, []string{"Message", state.Message})
	}
	if state.Error != "" {
		rows = append(rows, []string{"Error", state.Error})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}
