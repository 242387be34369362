package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

type ReplCommand func(string, *REPLConfig) (output string, err error)

const (
	// Trigger for the help meta-command that prints out all help strings
	TriggerHelpMetacommand = ".help"

	// String that should be prepended to any error before being sent to the output writer
	ErrorPrependStr = "ERROR: "
)

var (
	// use in combine repls function
	ErrOverlappingCommands = errors.New("found overlapping")

	// Error for when a sent trigger is not associated with any known commands
	ErrCommandNotFound = errors.New("command not found")
)

// REPL struct.
type REPL struct {
	commands map[string]ReplCommand
	help     map[string]string
}

// REPLConfig is handed to every command of one REPL run.
type REPLConfig struct {
	ctx    context.Context
	output io.Writer
}

// Context is cancelled when the REPL run is.
func (replConfig *REPLConfig) Context() context.Context {
	return replConfig.ctx
}

// Output is where the REPL writes; commands may stream to it directly.
func (replConfig *REPLConfig) Output() io.Writer {
	return replConfig.output
}

// Construct an empty REPL.
func NewRepl() *REPL {
	return &REPL{make(map[string]ReplCommand),
		make(map[string]string)}
}

// Combines a slice of REPLs.
/*
	- Error if the REPLs being combined have any overlapping commands (same trigger).
	- If no REPLs are given, return a new empty REPL.
*/
func CombineRepls(repls []*REPL) (*REPL, error) {
	newrepl := NewRepl()
	for _, r := range repls {
		for key, value := range r.commands {
			if _, exists := newrepl.commands[key]; exists {
				return nil, fmt.Errorf("%w command: %s", ErrOverlappingCommands, key)
			}
			newrepl.AddCommand(key, value, r.help[key])
		}
	}
	return newrepl, nil
}

// Get commands.
func (r *REPL) GetCommands() map[string]ReplCommand {
	return r.commands
}

// Get help.
func (r *REPL) GetHelp() map[string]string {
	return r.help
}

// Add a command, along with its help string, to the set of commands.
// A duplicate trigger overwrites the previous command; the help
// meta-command cannot be overwritten.
func (r *REPL) AddCommand(trigger string, action ReplCommand, help string) {
	if trigger == TriggerHelpMetacommand {
		return
	}
	r.commands[trigger] = action
	r.help[trigger] = help
}

// Return all REPL commands' help strings as one string, sorted by trigger.
func (r *REPL) HelpString() string {
	triggers := make([]string, 0, len(r.help))
	for k := range r.help {
		triggers = append(triggers, k)
	}
	sort.Strings(triggers)
	var sb strings.Builder
	for _, k := range triggers {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, r.help[k]))
	}
	return sb.String()
}

/*
Writes the welcome string and then runs the REPL loop until input ends or
ctx is cancelled.
- '.help' writes the REPL's HelpString() out.
- A known trigger runs its command with the whole input line; errors are
  written prefixed with ErrorPrependStr.
- An unknown trigger writes ErrCommandNotFound.

Input and output default to Stdin and Stdout if nil.
*/
func (r *REPL) Run(ctx context.Context, prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}

	scanner := bufio.NewScanner(input)
	replConfig := &REPLConfig{ctx: ctx, output: output}
	fmt.Fprintln(output, "Welcome to the isolab REPL! Please type '.help' to see the list of available commands.")
	io.WriteString(output, prompt)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		payload := scanner.Text()
		fields := strings.Fields(payload)
		if len(fields) == 0 {
			io.WriteString(output, prompt)
			continue
		}
		trigger := fields[0]

		if trigger == TriggerHelpMetacommand {
			io.WriteString(output, r.HelpString())
			io.WriteString(output, prompt)
			continue
		}

		if command, exists := r.commands[trigger]; exists {
			result, err := command(payload, replConfig)
			if err != nil {
				fmt.Fprintf(output, "%s%s\n", ErrorPrependStr, err)
			} else {
				// Append newline if there is output and if it doesn't end with a newline already
				if len(result) != 0 && !strings.HasSuffix(result, "\n") {
					result = result + "\n"
				}
				io.WriteString(output, result)
			}
		} else {
			fmt.Fprintf(output, "%s%s\n", ErrorPrependStr, ErrCommandNotFound)
		}
		io.WriteString(output, prompt)
	}
	// Print an additional line if we encountered an EOF character.
	io.WriteString(output, "\n")
}
