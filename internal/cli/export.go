package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/config"
	"github.com/roach88/blobdb/internal/export"
)

const s3Scheme = "s3://"

// ExportView reports where a snapshot went.
type ExportView struct {
	Destination string `json:"destination"`
	Records     int    `json:"records"`
	Compressed  bool   `json:"compressed"`
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dest>",
		Short: "Export live records as a JSON snapshot",
		Long: `Write a snapshot of every live record to a local file or to an
S3-compatible bucket.

A destination of the form s3://<name> uploads object <name> using the
export section of the config file. Any other destination is a local path,
replaced atomically. Names ending in .zst are zstd-compressed.

Examples:
  blobdb export snapshot.json --channel demo
  blobdb export s3://daily/demo.json.zst --config blobdb.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			sess, err := opts.openSession(cmd)
			if err != nil {
				return reportSetup(f, err)
			}
			defer sess.Close()

			view, err := runExport(cmd.Context(), sess, args[0], time.Now())
			if err != nil {
				return report(f, err)
			}
			return f.Success(view)
		},
	}
}

func runExport(ctx context.Context, sess *session, dest string, now time.Time) (ExportView, error) {
	records, err := sess.store.List(ctx)
	if err != nil {
		return ExportView{}, err
	}
	snap := export.NewSnapshot(sess.store.Namespace(), sess.store.Mode(), sess.store.Metadata(), records, now)
	view := ExportView{
		Destination: dest,
		Records:     len(snap.Records),
		Compressed:  strings.HasSuffix(dest, export.CompressedSuffix),
	}

	name, remote := strings.CutPrefix(dest, s3Scheme)
	if !remote {
		if err := export.WriteFile(dest, snap); err != nil {
			return ExportView{}, err
		}
		sess.logger.Info("exported snapshot", zap.String("path", dest), zap.Int("records", view.Records))
		return view, nil
	}

	up, err := export.NewUploader(s3Options(sess.cfg.Export))
	if err != nil {
		return ExportView{}, &config.ValidationError{Path: "export", Message: err.Error()}
	}
	key, err := up.Upload(ctx, name, snap)
	if err != nil {
		return ExportView{}, err
	}
	view.Destination = s3Scheme + sess.cfg.Export.Bucket + "/" + key
	sess.logger.Info("exported snapshot", zap.String("object", view.Destination), zap.Int("records", view.Records))
	return view, nil
}

func s3Options(c config.ExportConfig) export.S3Options {
	return export.S3Options{
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		Prefix:    c.Prefix,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		Secure:    c.Secure,
	}
}
