package cli

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mekedron/orderboard/internal/service/output"
)

const (
	devVersion      = "dev"
	develModVersion = "(devel)"
	shortRevision   = 12
)

var readBuildInfo = debug.ReadBuildInfo

// buildInfo describes the running binary.
type buildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Revision  string `json:"revision,omitempty" yaml:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	GoVersion string `json:"go_version,omitempty" yaml:"go_version,omitempty"`
}

// resolveBuild prefers an injected release version, then the module version
// recorded by the toolchain, then the VCS revision.
func resolveBuild(injected string) buildInfo {
	info := buildInfo{Version: strings.TrimSpace(injected)}
	if raw, ok := readBuildInfo(); ok && raw != nil {
		info.GoVersion = raw.GoVersion
		for _, setting := range raw.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Revision = strings.TrimSpace(setting.Value)
			case "vcs.modified":
				info.Dirty = strings.EqualFold(strings.TrimSpace(setting.Value), "true")
			}
		}
		if len(info.Revision) > shortRevision {
			info.Revision = info.Revision[:shortRevision]
		}
		if info.Version == "" || info.Version == devVersion {
			switch module := strings.TrimSpace(raw.Main.Version); {
			case module != "" && module != develModVersion:
				info.Version = module
			case info.Revision != "" && info.Dirty:
				info.Version = info.Revision + "-dirty"
			case info.Revision != "":
				info.Version = info.Revision
			}
		}
	}
	if info.Version == "" {
		info.Version = devVersion
	}
	return info
}

func newVersionCommand(deps Dependencies) *cobra.Command {
	flags := globalFlags{}
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseOutputFormat(flags.Format)
			if err != nil {
				return err
			}
			info := resolveBuild(deps.Version)
			if format == output.FormatTable {
				line := info.Version
				if info.Revision != "" && !strings.HasPrefix(info.Version, info.Revision) {
					line += fmt.Sprintf(" (%s)", info.Revision)
				}
				if info.GoVersion != "" {
					line += " " + info.GoVersion
				}
				return writeTable(cmd, line, flags.Output)
			}
			return writeMachinePayload(cmd, output.BuildEnvelope("", "", info, nil, nil), format, flags.Output)
		},
	}
	addSharedGlobalFlag(cmd, "format", func() {
		cmd.Flags().StringVar(&flags.Format, "format", "table", "Output format: table, json, or yaml.")
	})
	addSharedGlobalFlag(cmd, "output", func() {
		cmd.Flags().StringVar(&flags.Output, "output", "", "Also write rendered output to this file.")
	})
	return cmd
}
