package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// sharedGlobalOptionOrder is the order shared options appear in root help.
var sharedGlobalOptionOrder = []string{"format", "output", "config", "store", "verbose"}

// NewRootCommand builds the complete command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	root := &cobra.Command{
		Use:           "orderboard",
		Short:         "Keep a live, de-duplicated view of a restaurant's open orders.",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), resolveBuild(deps.Version).Version)
				return errVersionShown
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "v", false, "Show CLI version and exit.")
	root.SetHelpCommand(&cobra.Command{Hidden: true})
	defaultHelpFunc := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd == root {
			renderRootHelp(cmd.OutOrStdout(), root)
			return
		}
		defaultHelpFunc(cmd, args)
	})

	root.AddCommand(
		newOrdersCommand(deps),
		newSyncCommand(deps),
		newConfigureCommand(deps),
		newVersionCommand(deps),
	)
	return root
}

func renderRootHelp(out io.Writer, root *cobra.Command) {
	_, _ = fmt.Fprintf(out, "%s: %s\n\n", root.Name(), root.Short)
	_, _ = fmt.Fprintf(out, "usage: %s <command> [options]\n", root.Name())
	_, _ = fmt.Fprintln(out, "global options (accepted by every command that talks to the orders API):")
	for _, option := range append(optionDocs(root.Flags(), keepAll), sharedOptions(root)...) {
		_, _ = fmt.Fprintf(out, "  %s\n", option)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "commands:")
	for _, cmd := range root.Commands() {
		if cmd.Hidden {
			continue
		}
		_, _ = fmt.Fprintf(out, "  %s\n    %s\n", cmd.Name(), cmd.Short)
		for _, option := range commandOptions(cmd) {
			_, _ = fmt.Fprintf(out, "      %s\n", option)
		}
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "notes:")
	_, _ = fmt.Fprintln(out, "  - settings come from the config file, then ORDERBOARD_* environment variables, then flags.")
	_, _ = fmt.Fprintln(out, "  - orders does one refresh; sync keeps polling until interrupted or --duration elapses.")
	_, _ = fmt.Fprintln(out, "  - --store accepts memory://, file://dir, pebble://dir and redis://host:port/db.")
}

type optionDoc struct {
	name   string
	token  string
	usage  string
	shared bool
}

func (o optionDoc) String() string {
	return o.token + ": " + o.usage
}

func keepAll(optionDoc) bool { return true }

// commandOptions lists the options specific to cmd; shared options are
// documented once at the root.
func commandOptions(cmd *cobra.Command) []optionDoc {
	return optionDocs(cmd.NonInheritedFlags(), func(o optionDoc) bool { return !o.shared })
}

// sharedOptions collects the shared options registered on any subcommand.
func sharedOptions(root *cobra.Command) []optionDoc {
	found := map[string]optionDoc{}
	for _, cmd := range root.Commands() {
		for _, option := range optionDocs(cmd.NonInheritedFlags(), func(o optionDoc) bool { return o.shared }) {
			if _, ok := found[option.name]; !ok {
				found[option.name] = option
			}
		}
	}
	out := make([]optionDoc, 0, len(found))
	for _, name := range sharedGlobalOptionOrder {
		if option, ok := found[name]; ok {
			out = append(out, option)
		}
	}
	return out
}

func optionDocs(flags *pflag.FlagSet, keep func(optionDoc) bool) []optionDoc {
	options := []optionDoc{}
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden || flag.Name == "help" {
			return
		}
		token := "--" + flag.Name
		if flag.Shorthand != "" {
			token += "/-" + flag.Shorthand
		}
		_, shared := flag.Annotations[sharedGlobalFlagAnnotation]
		option := optionDoc{name: flag.Name, token: token, usage: strings.TrimSpace(flag.Usage), shared: shared}
		if keep(option) {
			options = append(options, option)
		}
	})
	slices.SortFunc(options, func(a, b optionDoc) int { return strings.Compare(a.name, b.name) })
	return options
}
