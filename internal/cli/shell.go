package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const shellPrompt = "blobdb> "

const shellHelp = `Commands:
  create <payload>        store a new record
  read <id>               show the newest version of a record
  update <id> <payload>   store a new version of a record
  delete <id>             delete a record
  list                    list live records
  history <id>            show every version of a record
  info                    show store metadata
  help                    show this help
  exit                    leave the shell`

// shellCommand describes one shell verb. Payload arguments take the rest
// of the line, so they may contain spaces.
type shellCommand struct {
	args    int
	usage   string
	payload bool
	op      recordOp
}

var shellCommands = map[string]shellCommand{
	"create":  {args: 1, usage: "create <payload>", payload: true, op: opCreate},
	"read":    {args: 1, usage: "read <id>", op: opRead},
	"update":  {args: 2, usage: "update <id> <payload>", payload: true, op: opUpdate},
	"delete":  {args: 1, usage: "delete <id>", op: opDelete},
	"list":    {args: 0, usage: "list", op: opList},
	"history": {args: 1, usage: "history <id>", op: opHistory},
}

// NewShellCommand creates the interactive shell command.
func NewShellCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session against one store",
		Long: `Open the store once and read commands from standard input, one per
line. Errors are printed and the session continues. With the memory
ledger this is the only way to issue several operations against the same
log.

` + shellHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			sess, err := opts.openSession(cmd)
			if err != nil {
				return reportSetup(f, err)
			}
			defer sess.Close()

			return runShell(cmd, sess, f, cmd.InOrStdin())
		},
	}
}

func runShell(cmd *cobra.Command, sess *session, f *OutputFormatter, in io.Reader) error {
	ctx := cmd.Context()
	prompt := func() {
		if f.Format != "json" {
			fmt.Fprint(f.Writer, shellPrompt)
		}
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			prompt()
			continue
		}

		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch verb {
		case "exit", "quit":
			return nil
		case "help":
			f.Success(shellHelp)
		case "info":
			view, err := opInfo(ctx, sess.store, sess.client)
			if err != nil {
				report(f, err)
			} else {
				f.Success(view)
			}
		default:
			sc, ok := shellCommands[verb]
			if !ok {
				f.Error(CodeUsage, fmt.Sprintf("unknown command %q (try help)", verb), nil)
				break
			}
			args, ok := splitShellArgs(rest, sc)
			if !ok {
				f.Error(CodeUsage, "usage: "+sc.usage, nil)
				break
			}
			result, err := sc.op(ctx, sess.store, args)
			if err != nil {
				report(f, err)
				break
			}
			f.Success(result)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		prompt()
	}
	if f.Format != "json" {
		fmt.Fprintln(f.Writer)
	}
	return scanner.Err()
}

// splitShellArgs splits rest into exactly sc.args arguments. When the
// command takes a payload, the last argument is the remainder of the line.
func splitShellArgs(rest string, sc shellCommand) ([]string, bool) {
	if sc.args == 0 {
		return nil, rest == ""
	}
	if rest == "" {
		return nil, false
	}
	if !sc.payload {
		fields := strings.Fields(rest)
		return fields, len(fields) == sc.args
	}
	args := make([]string, 0, sc.args)
	for len(args) < sc.args-1 {
		head, tail, ok := strings.Cut(rest, " ")
		if !ok {
			return nil, false
		}
		args = append(args, head)
		rest = strings.TrimSpace(tail)
	}
	if rest == "" {
		return nil, false
	}
	return append(args, rest), true
}
