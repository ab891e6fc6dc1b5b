package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for input.
type Prompter interface {
	Line(label string) (string, error)
	// Secret reads without echo when attached to a terminal.
	Secret(label string) (string, error)
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type terminalPrompter struct {
	in     *os.File
	reader *bufio.Reader
	w      io.Writer
}

func newTerminalPrompter(in *os.File, w io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, reader: bufio.NewReader(in), w: w}
}

func (p *terminalPrompter) Line(label string) (string, error) {
	if _, err := fmt.Fprint(p.w, label+": "); err != nil {
		return "", err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *terminalPrompter) Secret(label string) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return p.Line(label)
	}
	if _, err := fmt.Fprint(p.w, label+": "); err != nil {
		return "", err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(p.w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
