package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maltedev/amazon-product-scraper/internal/scraper"
)

var (
	searchURL   string
	searchPages int
)

func init() {
	searchCmd.Flags().StringVar(&searchURL, "url", "", "Start from this search results URL instead of a query")
	searchCmd.Flags().IntVar(&searchPages, "pages", scraper.DefaultMaxPages, "Maximum number of result pages to walk")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [query] [--url <search url>] [--pages <n>]",
	Short: "Scrape search result listings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scraper.SearchRequest{
			Query:    strings.Join(args, " "),
			URL:      searchURL,
			MaxPages: searchPages,
		}
		if strings.TrimSpace(req.Query) == "" && req.URL == "" {
			return scraper.ErrNoQuery
		}
		if req.MaxPages < 1 {
			return fmt.Errorf("--pages must be at least 1, got %d", req.MaxPages)
		}

		s, err := opts.newScraper()
		if err != nil {
			return err
		}

		result := s.SearchReport(cmd.Context(), req, func(p scraper.PageResult) {
			fmt.Fprintf(cmd.ErrOrStderr(), "page %d: %d products (%d total)\n", p.Number, p.Products, p.Total)
		})
		fmt.Fprintf(cmd.ErrOrStderr(), "stopped after %d page(s): %s\n", result.Pages, result.Stop)

		return opts.emit(cmd, result.Products...)
	},
}
