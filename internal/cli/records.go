package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/store"
)

// RecordView is the CLI form of a record. Payloads are shown as text.
type RecordView struct {
	ID        string        `json:"id"`
	Payload   string        `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
	Height    ledger.Height `json:"height"`
}

// VersionView is one entry of a record's history.
type VersionView struct {
	RecordView
	Deleted bool `json:"deleted,omitempty"`
}

// ListView is the result of list.
type ListView struct {
	Records []RecordView `json:"records"`
	Count   int          `json:"count"`
}

func recordView(r store.Record) RecordView {
	return RecordView{
		ID:        r.ID,
		Payload:   string(r.Payload),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Height:    r.Height,
	}
}

// recordOp is one store operation as run by a command or the shell.
type recordOp func(ctx context.Context, s *store.Store, args []string) (any, error)

func opCreate(ctx context.Context, s *store.Store, args []string) (any, error) {
	r, err := s.Create(ctx, []byte(args[0]))
	if err != nil {
		return nil, err
	}
	return recordView(r), nil
}

func opRead(ctx context.Context, s *store.Store, args []string) (any, error) {
	r, err := s.Read(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return recordView(r), nil
}

func opUpdate(ctx context.Context, s *store.Store, args []string) (any, error) {
	r, err := s.Update(ctx, args[0], []byte(args[1]))
	if err != nil {
		return nil, err
	}
	return recordView(r), nil
}

func opDelete(ctx context.Context, s *store.Store, args []string) (any, error) {
	if err := s.Delete(ctx, args[0]); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Deleted %s", args[0]), nil
}

func opList(ctx context.Context, s *store.Store, _ []string) (any, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	view := ListView{Records: make([]RecordView, 0, len(records)), Count: len(records)}
	for _, r := range records {
		view.Records = append(view.Records, recordView(r))
	}
	return view, nil
}

func opHistory(ctx context.Context, s *store.Store, args []string) (any, error) {
	versions, err := s.History(ctx, args[0])
	if err != nil {
		return nil, err
	}
	out := make([]VersionView, 0, len(versions))
	for _, v := range versions {
		out = append(out, VersionView{RecordView: recordView(v.Record), Deleted: v.Deleted})
	}
	return out, nil
}

// runRecordOp opens a session, runs op, and reports the outcome.
func runRecordOp(cmd *cobra.Command, opts *RootOptions, op recordOp, args []string) error {
	f := opts.formatter(cmd)

	sess, err := opts.openSession(cmd)
	if err != nil {
		return reportSetup(f, err)
	}
	defer sess.Close()

	result, err := op(cmd.Context(), sess.store, args)
	if err != nil {
		return report(f, err)
	}
	return f.Success(result)
}

func newRecordCommand(opts *RootOptions, use, short, long string, args cobra.PositionalArgs, op recordOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordOp(cmd, opts, op, args)
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	return newRecordCommand(opts, "create <payload>", "Store a new record",
		`Store payload as a new record with a freshly minted id.

The record and the updated metadata are submitted as one batch.

Examples:
  blobdb create "hello" --channel demo
  blobdb create '{"name":"alice"}' --format json`,
		cobra.ExactArgs(1), opCreate)
}

// NewReadCommand creates the read command.
func NewReadCommand(opts *RootOptions) *cobra.Command {
	return newRecordCommand(opts, "read <id>", "Show the newest version of a record",
		`Show the newest live version of a record.

Exit codes:
  0 - Record found
  1 - Record not found or deleted
  2 - Command error (invalid config, unreachable ledger)`,
		cobra.ExactArgs(1), opRead)
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return newRecordCommand(opts, "update <id> <payload>", "Store a new version of a record",
		`Store a new version of an existing record. Earlier versions stay on the
ledger and are listed by history.`,
		cobra.ExactArgs(2), opUpdate)
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return newRecordCommand(opts, "delete <id>", "Delete a record",
		`Write a tombstone for a record. Reads and lists no longer return it;
its earlier versions remain in history.`,
		cobra.ExactArgs(1), opDelete)
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return newRecordCommand(opts, "list", "List live records",
		`List every live record at its newest version, oldest first.`,
		cobra.NoArgs, opList)
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return newRecordCommand(opts, "history <id>", "Show every version of a record",
		`Show every version of a record written since the store was created,
oldest first, including deletions.`,
		cobra.ExactArgs(1), opHistory)
}
