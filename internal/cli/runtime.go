package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mekedron/orderboard/internal/config"
	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/kvstore"
	"github.com/mekedron/orderboard/internal/service/diagnostics"
	"github.com/mekedron/orderboard/internal/service/syncer"
)

type verboseHTTPTraceSetter interface {
	SetVerboseOutput(out io.Writer)
}

func attachVerboseHTTPTrace(cmd *cobra.Command, upstream any) {
	if cmd == nil || upstream == nil {
		return
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return
	}
	setter, ok := upstream.(verboseHTTPTraceSetter)
	if !ok {
		return
	}
	setter.SetVerboseOutput(cmd.ErrOrStderr())
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "[verbose] http trace enabled")
}

func newLogger(out io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// runtime holds one command invocation's engine and its collaborators.
type runtime struct {
	cfg      domain.SyncConfig
	engine   *syncer.Engine
	metrics  *diagnostics.Metrics
	recorder *diagnostics.Recorder
	logger   *slog.Logger
	closers  []func() error
}

func (r *runtime) meta() envelopeMeta {
	return envelopeMeta{source: r.cfg.BaseURL, restaurant: r.cfg.RestaurantGUID}
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func configManager(deps Dependencies, flags *globalFlags) (ConfigManager, error) {
	if path := strings.TrimSpace(flags.ConfigPath); path != "" {
		return config.NewStoreAt(path), nil
	}
	if deps.Config != nil {
		return deps.Config, nil
	}
	return config.NewStore()
}

// buildRuntime resolves configuration and wires the engine. override may
// adjust the resolved configuration before defaults are reapplied.
func buildRuntime(cmd *cobra.Command, deps Dependencies, flags *globalFlags, override func(*domain.SyncConfig)) (*runtime, error) {
	if deps.NewAPI == nil {
		return nil, errors.New("orders API is not configured")
	}
	manager, err := configManager(deps, flags)
	if err != nil {
		return nil, err
	}
	cfg, err := manager.Resolve(cmd.Context())
	if err != nil {
		return nil, err
	}
	if store := strings.TrimSpace(flags.StoreURL); store != "" {
		cfg.StoreURL = store
	}
	if override != nil {
		override(&cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	rt := &runtime{
		cfg:      cfg,
		metrics:  diagnostics.NewMetrics(),
		recorder: &diagnostics.Recorder{},
		logger:   newLogger(cmd.ErrOrStderr(), flags.Verbose),
	}

	api := deps.NewAPI(cfg)
	attachVerboseHTTPTrace(cmd, api)

	openStore := deps.OpenStore
	if openStore == nil {
		openStore = kvstore.Open
	}
	sinks := diagnostics.Multi{diagnostics.SlogSink{Logger: rt.logger}, rt.metrics, rt.recorder}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := diagnostics.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, rt.logger)
		sinks = append(sinks, kafkaSink)
		rt.closers = append(rt.closers, kafkaSink.Close)
	}

	store, err := openStore(cfg.StoreURL)
	switch {
	case errors.Is(err, kvstore.ErrInvalidURL), errors.Is(err, kvstore.ErrUnsupportedScheme):
		return nil, fmt.Errorf("open store: %w", err)
	case err != nil:
		// an unreachable store degrades to a cold, in-process cache
		sinks.Emit(cmd.Context(), diagnostics.Event{
			Type:    diagnostics.TypeStoreError,
			Level:   diagnostics.LevelWarn,
			Payload: map[string]any{"op": "open", "store": redactStoreURL(cfg.StoreURL), "error": err.Error()},
			At:      time.Now(),
		})
		store = kvstore.NewMemory()
	}
	rt.closers = append(rt.closers, store.Close)

	rt.engine = syncer.New(syncer.Options{
		Config: cfg,
		API:    api,
		Store:  store,
		Sink:   sinks,
		Logger: rt.logger,
	})
	return rt, nil
}

// redactStoreURL drops credentials from a store URL before it is logged.
func redactStoreURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Redacted()
}

// warnings summarizes recorded warn and error events for the envelope.
func (r *runtime) warnings() []string {
	out := []string{}
	for _, event := range r.recorder.Events() {
		if event.Level != diagnostics.LevelWarn && event.Level != diagnostics.LevelError {
			continue
		}
		detail := ""
		for _, key := range []string{"error", "reason", "payload", "stage"} {
			if value, ok := event.Payload[key]; ok && value != nil {
				detail = fmt.Sprint(value)
				break
			}
		}
		if detail == "" {
			out = append(out, event.Type)
			continue
		}
		out = append(out, event.Type+": "+detail)
	}
	return out
}
