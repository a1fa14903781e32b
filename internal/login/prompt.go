package login

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/term"
)

// Prompter is the terminal side of an interactive login.
type Prompter interface {
	Printf(format string, args ...any)
	Prompt(label string) (string, error)
	// Secret reads a value without echoing it when the input is a terminal.
	Secret(label string) (string, error)
	OpenBrowser(url string)
}

type TerminalPrompter struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out io.Writer
}

func NewTerminalPrompter() *TerminalPrompter {
	fd := int(os.Stdin.Fd())
	return &TerminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		fd:  fd,
		tty: term.IsTerminal(fd),
		out: os.Stdout,
	}
}

// NewScriptedPrompter reads answers from in and writes prompts to out.
func NewScriptedPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), fd: -1, out: out}
}

func (p *TerminalPrompter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *TerminalPrompter) Prompt(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *TerminalPrompter) Secret(label string) (string, error) {
	if !p.tty {
		return p.Prompt(label)
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (p *TerminalPrompter) OpenBrowser(url string) {
	if err := OpenBrowser(url); err != nil {
		p.Printf("Could not open a browser (%v). Open the URL above manually.\n", err)
	}
}

func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
