package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/amazon-product-scraper/internal/config"
	"github.com/maltedev/amazon-product-scraper/internal/fetch"
	"github.com/maltedev/amazon-product-scraper/internal/identity"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/scraper"
	"github.com/maltedev/amazon-product-scraper/internal/storage"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

// options are the persistent flags shared by every command.
type options struct {
	country     string
	proxies     []string
	impersonate string
	rotation    string
	shorthand   string
	output      string
	save        string
	logLevel    string
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "amzscrape",
	Short: "amzscrape scrapes Amazon product pages and search results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !urlnorm.KnownSuffix(opts.country) {
			return fmt.Errorf("unknown Amazon storefront %q", opts.country)
		}
		return validateOutput(opts.output)
	},
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.country, "country", envOr("SCRAPER_COUNTRY", "com"), "Amazon storefront domain suffix for searches (com, de, co.uk, ...)")
	f.StringSliceVar(&opts.proxies, "proxy", nil, "Proxy URL; repeat to rotate through several")
	f.StringVar(&opts.impersonate, "impersonate", "", "Browser profile to impersonate (e.g. chrome120, safari17_0)")
	f.StringVar(&opts.rotation, "rotation", "", "Identity rotation: per-request, per-attempt or sticky")
	f.StringVar(&opts.shorthand, "config", "", `Session overrides, e.g. "MAX_RETRIES = 5, DELAY_BETWEEN_REQUESTS = (1, 3)"`)
	f.StringVarP(&opts.output, "output", "o", outputTable, "Output format: json or table")
	f.StringVar(&opts.save, "save", "", "Also merge results into this JSON file")
	f.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "Log level written to stderr")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// sessionConfig layers the session sources: defaults, SCRAPER_SESSION from
// the environment, --config, then the dedicated flags.
func (o options) sessionConfig() (config.Session, error) {
	session := config.DefaultSession()

	if raw := os.Getenv("SCRAPER_SESSION"); raw != "" {
		env, err := config.ParseShorthand(raw)
		if err != nil {
			return session, fmt.Errorf("failed to parse SCRAPER_SESSION: %w", err)
		}
		session = session.WithOverrides(env)
	}

	var over config.Overrides
	if o.shorthand != "" {
		parsed, err := config.ParseShorthand(o.shorthand)
		if err != nil {
			return session, fmt.Errorf("failed to parse --config: %w", err)
		}
		over = parsed
	}

	var flags config.Overrides
	if o.impersonate != "" {
		flags.Impersonate = &o.impersonate
	}
	if o.rotation != "" {
		policy, err := identity.ParsePolicy(o.rotation)
		if err != nil {
			return session, err
		}
		flags.Rotation = &policy
	}
	if len(o.proxies) > 0 {
		flags.Proxies = o.proxies
	}

	session = session.WithOverrides(over.Merge(flags))
	if err := session.Validate(); err != nil {
		return session, err
	}
	return session, nil
}

func (o options) newLogger() *slog.Logger {
	return logger.NewWithWriter(os.Stderr, o.logLevel, "text")
}

func (o options) newScraper() (*scraper.Scraper, error) {
	cfg, err := o.sessionConfig()
	if err != nil {
		return nil, err
	}
	log := o.newLogger()

	s, err := fetch.NewSession(cfg, o.country, fetch.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return scraper.NewFromSession(s, log), nil
}

// emit prints products and merges them into --save when set.
func (o options) emit(cmd *cobra.Command, products ...models.Product) error {
	if err := render(cmd.OutOrStdout(), o.output, products); err != nil {
		return err
	}
	if o.save == "" || len(products) == 0 {
		return nil
	}

	store, err := storage.Open(o.save)
	if err != nil {
		return err
	}
	added, updated, err := store.Add(products...)
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "saved to %s: %d new, %d updated, %d total\n", o.save, added, updated, store.Len())
	return nil
}
