package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
//
// Store flags override the config file and environment only when set on
// the command line.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath   string
	Channel      string
	ChannelWidth int
	Ledger       string
	DB           string
	Endpoint     string
	Hint         uint64
	SearchLimit  uint64
	Mode         string
	Codec        string
	Compress     bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the blobdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "blobdb",
		Short: "blobdb - a record store on a data availability ledger",
		Long: `A record store that keeps every version of every record as blobs
in one ledger namespace, found again through a self-describing
metadata blob.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&opts.Channel, "channel", "", "channel (namespace) name")
	pf.IntVar(&opts.ChannelWidth, "channel-width", 8, "channel width in bytes (8|10)")
	pf.StringVar(&opts.Ledger, "ledger", "", "ledger kind (memory|sqlite|celestia)")
	pf.StringVar(&opts.DB, "db", "", "SQLite ledger database path")
	pf.StringVar(&opts.Endpoint, "endpoint", "", "Celestia node RPC endpoint")
	pf.Uint64Var(&opts.Hint, "hint", 0, "height known to hold the store metadata")
	pf.Uint64Var(&opts.SearchLimit, "search-limit", 1000, "heights searched back from head during discovery")
	pf.StringVar(&opts.Mode, "mode", "indexed", "store mode (indexed|scan)")
	pf.StringVar(&opts.Codec, "codec", "json", "blob encoding for new writes (json|cbor)")
	pf.BoolVar(&opts.Compress, "compress", false, "zstd-compress large payloads")

	// Add subcommands
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewShellCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the OutputFormatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
