package main

import (
	"errors"
	"fmt"

	"github.com/pysugar/shelflife/internal/app"
	"github.com/pysugar/shelflife/internal/tbdb"
	"github.com/spf13/cobra"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var opts tbdb.SearchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the TBDB catalogue directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				client, err := a.Clients.Client(cmd.Context())
				if err != nil {
					return err
				}
				res, err := client.SearchProducts(cmd.Context(), args[0], opts)
				if err != nil {
					return describeTBDBError(err)
				}
				if res == nil {
					return errors.New("TBDB rejected the search")
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderSearch(res))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProductType, "type", "", "Restrict to a product type")
	cmd.Flags().IntVar(&opts.PerPage, "per-page", 20, "Results per page")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page number")
	return cmd
}

func renderSearch(res *tbdb.SearchResult) string {
	rows := make([][]string, 0, len(res.Data))
	for _, p := range res.Data {
		rows = append(rows, []string{p.GTIN, p.Title, p.Author, p.ProductType})
	}
	out := renderTable([]string{"GTIN", "Title", "Author", "Type"}, rows, nil)
	return out + fmt.Sprintf("\npage %d, %d of %d results", res.Meta.Page, len(res.Data), res.Meta.Total)
}

func describeTBDBError(err error) error {
	return fmt.Errorf("tbdb %s: %w", tbdb.Classify(err).Kind, err)
}
