package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

var errNoProduct = errors.New("no product could be extracted")

func init() {
	rootCmd.AddCommand(productCmd)
}

var productCmd = &cobra.Command{
	Use:   "product <url>",
	Short: "Scrape a single product page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := urlnorm.Normalize(args[0]); err != nil {
			return err
		}

		s, err := opts.newScraper()
		if err != nil {
			return err
		}

		p := s.GetProduct(cmd.Context(), args[0])
		if p == nil {
			return errNoProduct
		}
		return opts.emit(cmd, *p)
	},
}
