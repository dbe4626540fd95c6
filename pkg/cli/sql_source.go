package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"bq-guard/internal/domain"
)

// sqlSource is the --sql flag shared by the commands that take a query.
type sqlSource struct {
	inline string
}

func (s *sqlSource) register(fs *pflag.FlagSet) {
	fs.StringVar(&s.inline, "sql", "", "SQL text (instead of FILE or stdin)")
}

// read resolves the query text: --sql, then FILE, then stdin when FILE is
// "-" or stdin is not a terminal.
func (s *sqlSource) read(rt *runtime, args []string) (string, error) {
	var (
		text string
		from string
	)
	switch {
	case s.inline != "" && len(args) > 0:
		return "", domain.ErrValidation("pass either --sql or FILE, not both")
	case s.inline != "":
		text, from = s.inline, "--sql"
	case len(args) > 0 && args[0] != "-":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read SQL file: %w", err)
		}
		text, from = string(data), args[0]
	case len(args) > 0 || !rt.isTerminal():
		data, err := io.ReadAll(rt.in)
		if err != nil {
			return "", fmt.Errorf("read SQL from stdin: %w", err)
		}
		text, from = string(data), "stdin"
	default:
		return "", domain.ErrValidation("no SQL given: pass FILE, --sql, or pipe the query on stdin")
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrValidation("SQL from %s is empty", from)
	}
	return text, nil
}

// confirm asks a yes/no question on the terminal. Anything but y/yes is no.
func confirm(rt *runtime, question string) (bool, error) {
	_, _ = fmt.Fprintf(rt.errOut, "%s [y/N]: ", question)
	line, err := bufio.NewReader(rt.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
