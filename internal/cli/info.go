package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/store"
)

// InfoView describes an opened store.
type InfoView struct {
	Namespace      string        `json:"namespace"`
	NamespaceHex   string        `json:"namespace_hex"`
	Mode           string        `json:"mode"`
	Origin         string        `json:"origin"`
	StartHeight    ledger.Height `json:"start_height"`
	MetadataHeight ledger.Height `json:"metadata_height"`
	Head           ledger.Height `json:"head"`
	RecordCount    uint64        `json:"record_count"`
	LastUpdated    time.Time     `json:"last_updated"`
	Indexed        int           `json:"indexed"`
	Deleted        int           `json:"deleted"`
}

func opInfo(ctx context.Context, s *store.Store, client ledger.Client) (InfoView, error) {
	head, err := client.Head(ctx)
	if err != nil {
		return InfoView{}, err
	}
	m := s.Metadata()
	return InfoView{
		Namespace:      s.Namespace().String(),
		NamespaceHex:   s.Namespace().Hex(),
		Mode:           string(s.Mode()),
		Origin:         string(s.Origin()),
		StartHeight:    m.StartHeight,
		MetadataHeight: m.Height,
		Head:           head,
		RecordCount:    m.RecordCount,
		LastUpdated:    m.LastUpdated,
		Indexed:        len(m.LiveIDs()),
		Deleted:        len(m.Deleted),
	}, nil
}

// NewInfoCommand creates the info command.
func NewInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show store metadata",
		Long: `Open the store and show how its metadata was found, where it lives,
and what it records.

Use metadata_height as --hint to skip discovery on later runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			sess, err := opts.openSession(cmd)
			if err != nil {
				return reportSetup(f, err)
			}
			defer sess.Close()

			view, err := opInfo(cmd.Context(), sess.store, sess.client)
			if err != nil {
				return report(f, err)
			}
			return f.Success(view)
		},
	}
}
