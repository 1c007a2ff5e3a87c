package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mekedron/orderboard/internal/config"
	"github.com/mekedron/orderboard/internal/domain"
)

func newConfigureCommand(deps Dependencies) *cobra.Command {
	var (
		configPath string
		values     domain.SyncConfig
		detail     string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Create or update the local sync configuration.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := configManager(deps, &globalFlags{ConfigPath: configPath})
			if err != nil {
				return err
			}
			values.Detail = domain.Detail(strings.ToLower(strings.TrimSpace(detail)))

			existing, loadErr := manager.Load(cmd.Context())
			if loadErr != nil && !errors.Is(loadErr, config.ErrConfigNotFound) {
				if !overwrite {
					return loadErr
				}
			}
			if loadErr == nil && !overwrite {
				merged := mergeChanged(cmd, existing, values)
				if err := manager.Save(cmd.Context(), merged); err != nil {
					return err
				}
				return writeTable(cmd, fmt.Sprintf("Config updated at %s", manager.Path()), "")
			}

			created := mergeChanged(cmd, domain.DefaultSyncConfig(), values)
			if err := manager.Save(cmd.Context(), created); err != nil {
				return err
			}
			return writeTable(cmd, fmt.Sprintf("Config created at %s", manager.Path()), "")
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Config file path (defaults to $ORDERBOARD_CONFIG_PATH or ~/.orderboard/config.yaml).")
	flags.StringVar(&values.BaseURL, "base-url", "", "Orders API base URL.")
	flags.StringVar(&values.RestaurantGUID, "restaurant-guid", "", "Restaurant scope sent with every request.")
	flags.StringVar(&values.APIToken, "api-token", "", "Bearer token for the orders API.")
	flags.StringVar(&values.StoreURL, "store-url", "", "Persistence URL: memory://, file://dir, pebble://dir, redis://host:port/db.")
	flags.StringVar(&detail, "detail", "", "Bulk query detail: ids or full.")
	flags.IntVar(&values.PollIntervalSec, "poll-interval", 0, "Poll interval in seconds.")
	flags.IntVar(&values.QueryLimit, "limit", 0, "Bulk query limit.")
	flags.IntVar(&values.LookbackMinutes, "lookback", 0, "Initial lookback window in minutes.")
	flags.IntVar(&values.ConcurrencyLimit, "concurrency", 0, "Targeted fetch concurrency.")
	flags.StringSliceVar(&values.KafkaBrokers, "kafka-broker", nil, "Kafka broker for diagnostics events (repeatable).")
	flags.StringVar(&values.KafkaTopic, "kafka-topic", "", "Kafka topic for diagnostics events.")
	flags.StringVar(&values.MetricsAddr, "metrics-addr", "", "Default metrics listen address for sync.")
	flags.BoolVar(&overwrite, "overwrite", false, "Overwrite existing config")
	return cmd
}

// mergeChanged copies the values of flags set on the command line onto base.
func mergeChanged(cmd *cobra.Command, base domain.SyncConfig, values domain.SyncConfig) domain.SyncConfig {
	changed := cmd.Flags().Changed
	if changed("base-url") {
		base.BaseURL = strings.TrimSpace(values.BaseURL)
	}
	if changed("restaurant-guid") {
		base.RestaurantGUID = strings.TrimSpace(values.RestaurantGUID)
	}
	if changed("api-token") {
		base.APIToken = strings.TrimSpace(values.APIToken)
	}
	if changed("store-url") {
		base.StoreURL = strings.TrimSpace(values.StoreURL)
	}
	if changed("detail") {
		base.Detail = values.Detail
	}
	if changed("poll-interval") {
		base.PollIntervalSec = values.PollIntervalSec
	}
	if changed("limit") {
		base.QueryLimit = values.QueryLimit
	}
	if changed("lookback") {
		base.LookbackMinutes = values.LookbackMinutes
	}
	if changed("concurrency") {
		base.ConcurrencyLimit = values.ConcurrencyLimit
	}
	if changed("kafka-broker") {
		base.KafkaBrokers = values.KafkaBrokers
	}
	if changed("kafka-topic") {
		base.KafkaTopic = strings.TrimSpace(values.KafkaTopic)
	}
	if changed("metrics-addr") {
		base.MetricsAddr = strings.TrimSpace(values.MetricsAddr)
	}
	return base
}
