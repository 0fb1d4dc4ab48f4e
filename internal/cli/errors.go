package cli

import (
	"errors"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/config"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/store"
)

// Error codes reported in CLIError.Code.
const (
	CodeNotFound       = "E001"
	CodeRejected       = "E002"
	CodeTransport      = "E003"
	CodeFetch          = "E004"
	CodeInvalidChannel = "E005"
	CodeConfig         = "E006"
	CodeSerialization  = "E007"
	CodeUsage          = "E008"
	CodeScenario       = "E009"
	CodeInternal       = "E099"
)

// classify maps err to its response code and process exit code.
func classify(err error) (string, int) {
	var validation *config.ValidationError
	switch {
	case store.IsNotFound(err):
		return CodeNotFound, ExitFailure
	case ledger.IsRejected(err):
		return CodeRejected, ExitFailure
	case ledger.IsTransport(err):
		return CodeTransport, ExitCommandError
	case ledger.IsFetch(err):
		return CodeFetch, ExitFailure
	case ledger.IsInvalidChannel(err):
		return CodeInvalidChannel, ExitCommandError
	case errors.As(err, &validation):
		return CodeConfig, ExitCommandError
	case errors.Is(err, codec.ErrSerialization):
		return CodeSerialization, ExitFailure
	}
	return CodeInternal, ExitFailure
}

// report writes err through f and returns the ExitError the command should
// return.
func report(f *OutputFormatter, err error) error {
	code, exit := classify(err)
	var details any
	var lerr *ledger.Error
	if errors.As(err, &lerr) && lerr.Height != 0 {
		details = map[string]any{"height": lerr.Height, "op": lerr.Op}
	}
	if ferr := f.Error(code, err.Error(), details); ferr != nil {
		return ferr
	}
	return WrapExitError(exit, code, err)
}

// reportSetup is report for failures while building the session. They are
// always command errors.
func reportSetup(f *OutputFormatter, err error) error {
	code, _ := classify(err)
	if code == CodeInternal {
		code = CodeConfig
	}
	if ferr := f.Error(code, err.Error(), nil); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitCommandError, code, err)
}
