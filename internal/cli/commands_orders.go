package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/output"
	"github.com/mekedron/orderboard/internal/service/syncer"
)

type queryFlags struct {
	Detail   string
	Limit    int
	Lookback int
	Status   string
}

func addQueryFlags(cmd *cobra.Command, flags *queryFlags) {
	cmd.Flags().StringVar(&flags.Detail, "detail", "", "Bulk query detail: ids or full (defaults to config).")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "Bulk query limit (defaults to config).")
	cmd.Flags().IntVar(&flags.Lookback, "lookback", 0, "Initial lookback window in minutes (defaults to config).")
	cmd.Flags().StringVar(&flags.Status, "status", "", "Only show orders with these fulfillment statuses (comma-separated, e.g. READY,IN_PROGRESS).")
}

func (q queryFlags) apply(cfg *domain.SyncConfig) {
	if q.Detail != "" {
		cfg.Detail = domain.Detail(q.Detail)
	}
	if q.Limit > 0 {
		cfg.QueryLimit = q.Limit
	}
	if q.Lookback > 0 {
		cfg.LookbackMinutes = q.Lookback
	}
}

func filterOrders(orders []domain.NormalizedOrder, statuses map[string]struct{}) []domain.NormalizedOrder {
	if len(statuses) == 0 {
		return orders
	}
	out := make([]domain.NormalizedOrder, 0, len(orders))
	for _, order := range orders {
		if _, ok := statuses[order.FulfillmentStatus]; ok {
			out = append(out, order)
		}
	}
	return out
}

func snapshotTitle(snap syncer.Snapshot, shown []domain.NormalizedOrder) string {
	ready := 0
	for _, order := range shown {
		if order.IsReady() {
			ready++
		}
	}
	title := fmt.Sprintf("Orders: %d (%d ready)", len(shown), ready)
	if !snap.GeneratedAt.IsZero() {
		title += " as of " + snap.GeneratedAt.Local().Format(time.TimeOnly)
	}
	return title
}

func snapshotData(snap syncer.Snapshot, shown []domain.NormalizedOrder) map[string]any {
	data := map[string]any{
		"orders":         shown,
		"count":          len(shown),
		"generated_at":   snap.GeneratedAt,
		"lookup_version": snap.LookupVersion,
		"trigger":        snap.Trigger,
		"cycle_id":       snap.CycleID,
	}
	if snap.Cursor != nil {
		data["cursor"] = snap.Cursor
	}
	if snap.LastSuccessAt != nil {
		data["last_success_at"] = snap.LastSuccessAt
	}
	return data
}

func renderSnapshot(cmd *cobra.Command, rt *runtime, snap syncer.Snapshot, format output.Format, outputPath string, statuses map[string]struct{}) error {
	shown := filterOrders(snap.Orders, statuses)
	if format == output.FormatTable {
		return writeTable(cmd, output.RenderOrders(snapshotTitle(snap, shown), shown), outputPath)
	}
	meta := rt.meta()
	env := output.BuildEnvelope(meta.source, meta.restaurant, snapshotData(snap, shown), rt.warnings(), output.ErrorPayload("ORDERBOARD_REFRESH_ERROR", snap.Err))
	return writeMachinePayload(cmd, env, format, outputPath)
}

func newOrdersCommand(deps Dependencies) *cobra.Command {
	flags := globalFlags{}
	query := queryFlags{}

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Refresh once and print the current order board.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseOutputFormat(flags.Format)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd, deps, &flags, query.apply)
			if err != nil {
				return emitError(cmd, format, envelopeMeta{}, flags.Output, "ORDERBOARD_CONFIG_ERROR", err.Error())
			}
			defer func() {
				if closeErr := rt.Close(); closeErr != nil {
					rt.logger.Warn("close runtime", "error", closeErr)
				}
			}()

			rt.engine.Restore(cmd.Context())
			snap, err := rt.engine.Refresh(cmd.Context(), syncer.TriggerManual)
			if err != nil {
				return emitUpstreamError(cmd, format, rt.meta(), flags.Output, flags.Verbose, err)
			}
			return renderSnapshot(cmd, rt, snap, format, flags.Output, splitCSV(query.Status))
		},
	}
	addGlobalFlags(cmd, &flags)
	addQueryFlags(cmd, &query)
	return cmd
}
