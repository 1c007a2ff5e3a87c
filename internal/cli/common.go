package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/service/output"
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return ""
}

type globalFlags struct {
	Format     string
	Output     string
	ConfigPath string
	StoreURL   string
	Verbose    bool
}

const sharedGlobalFlagAnnotation = "orderboard_shared_global"

func addGlobalFlags(cmd *cobra.Command, flags *globalFlags) {
	addSharedGlobalFlag(cmd, "format", func() {
		cmd.Flags().StringVar(&flags.Format, "format", "table", "Output format: table, json, or yaml.")
	})
	addSharedGlobalFlag(cmd, "output", func() {
		cmd.Flags().StringVar(&flags.Output, "output", "", "Also write rendered output to this file.")
	})
	addSharedGlobalFlag(cmd, "config", func() {
		cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "Config file path (defaults to $ORDERBOARD_CONFIG_PATH or ~/.orderboard/config.yaml).")
	})
	addSharedGlobalFlag(cmd, "store", func() {
		cmd.Flags().StringVar(&flags.StoreURL, "store", "", "Persistence URL override: memory://, file://dir, pebble://dir, redis://host:port/db.")
	})
	addSharedGlobalFlag(cmd, "verbose", func() {
		cmd.Flags().BoolVar(&flags.Verbose, "verbose", false, "Enable verbose output (prints upstream request trace and debug logs).")
	})
}

func addSharedGlobalFlag(cmd *cobra.Command, name string, register func()) {
	if cmd.Flags().Lookup(name) != nil {
		return
	}
	register()
	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		return
	}
	if flag.Annotations == nil {
		flag.Annotations = map[string][]string{}
	}
	flag.Annotations[sharedGlobalFlagAnnotation] = []string{"true"}
}

func parseOutputFormat(format string) (output.Format, error) {
	return output.ParseFormat(format)
}

func writeTable(cmd *cobra.Command, text string, outputPath string) error {
	return output.WriteOutput(cmd.OutOrStdout(), text, outputPath)
}

func writeMachinePayload(cmd *cobra.Command, env output.Envelope, format output.Format, outputPath string) error {
	rendered, err := output.RenderPayload(env, format)
	if err != nil {
		return err
	}
	return output.WriteOutput(cmd.OutOrStdout(), rendered, outputPath)
}

// envelopeMeta names the upstream an envelope describes.
type envelopeMeta struct {
	source     string
	restaurant string
}

func emitError(
	cmd *cobra.Command,
	format output.Format,
	meta envelopeMeta,
	outputPath string,
	code string,
	message string,
) error {
	if format == output.FormatTable {
		if err := output.WriteOutput(cmd.OutOrStdout(), message, outputPath); err != nil {
			return err
		}
		return &exitError{code: 1}
	}
	env := output.BuildEnvelope(meta.source, meta.restaurant, nil, []string{}, map[string]any{
		"code":    code,
		"message": message,
	})
	if err := writeMachinePayload(cmd, env, format, outputPath); err != nil {
		return err
	}
	return &exitError{code: 1}
}

func emitUpstreamError(
	cmd *cobra.Command,
	format output.Format,
	meta envelopeMeta,
	outputPath string,
	verbose bool,
	err error,
) error {
	if err == nil {
		err = orders.ErrUpstream
	}
	if verbose {
		return emitError(cmd, format, meta, outputPath, "ORDERBOARD_UPSTREAM_ERROR", err.Error())
	}

	message := orders.ErrUpstream.Error() + " (use --verbose for details)"
	var upstreamErr *orders.UpstreamRequestError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode > 0 {
		message = fmt.Sprintf("%s (status %d, use --verbose for details)", orders.ErrUpstream.Error(), upstreamErr.StatusCode)
	} else if !errors.Is(err, orders.ErrUpstream) {
		message = err.Error()
	}
	return emitError(cmd, format, meta, outputPath, "ORDERBOARD_UPSTREAM_ERROR", message)
}

func splitCSV(value string) map[string]struct{} {
	result := map[string]struct{}{}
	if strings.TrimSpace(value) == "" {
		return result
	}
	for _, part := range strings.Split(value, ",") {
		token := strings.ToUpper(strings.TrimSpace(part))
		if token == "" {
			continue
		}
		result[token] = struct{}{}
	}
	return result
}
