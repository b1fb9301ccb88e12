// Package confirmation asks the user before destructive restores.
package confirmation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"site-guardian/internal/display"
	apperrors "site-guardian/internal/errors"
)

// Request describes what is about to be changed
type Request struct {
	Title   string
	Summary [][2]string
	// Details are shown on demand with "d"
	Details     []string
	Destructive bool
	AutoApprove bool
}

// Service asks for confirmation
type Service interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

type confirmationService struct {
	reader      *bufio.Reader
	out         io.Writer
	colors      display.ColorSystem
	interactive bool
}

// NewService creates a Service reading answers from in. Without an
// interactive input only auto-approved requests pass.
func NewService(in io.Reader, out io.Writer, colors display.ColorSystem, interactive bool) Service {
	return &confirmationService{
		reader:      bufio.NewReader(in),
		out:         out,
		colors:      colors,
		interactive: interactive,
	}
}

// IsInteractive reports whether in is a terminal
func IsInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Confirm prints the request and waits for y/n. An interrupt cancels.
func (cs *confirmationService) Confirm(ctx context.Context, req Request) (bool, error) {
	cs.displaySummary(req)

	if req.AutoApprove {
		fmt.Fprintln(cs.out, cs.colorize("Auto-approving...", cs.theme().Success))
		return true, nil
	}
	if !cs.interactive {
		return false, apperrors.NewValidationError("confirmation required but input is not a terminal, rerun with --yes", nil)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		inputChan := make(chan string, 1)
		errorChan := make(chan error, 1)
		go func() {
			input, err := cs.prompt()
			if err != nil {
				errorChan <- err
				return
			}
			inputChan <- input
		}()

		select {
		case <-sigCtx.Done():
			fmt.Fprintln(cs.out, "\n"+cs.colorize("Cancelled", cs.theme().Warning))
			return false, nil
		case err := <-errorChan:
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-inputChan:
			switch strings.ToLower(input) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				fmt.Fprintln(cs.out, "Cancelled")
				return false, nil
			case "d", "details":
				cs.displayDetails(req)
			default:
				fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.\n", input)
			}
		}
	}
}

func (cs *confirmationService) theme() display.ColorTheme {
	if cs.colors == nil {
		return display.PlainTextTheme()
	}
	return cs.colors.Theme()
}

func (cs *confirmationService) colorize(text string, clr display.Color) string {
	if cs.colors == nil {
		return text
	}
	return cs.colors.Colorize(text, clr)
}

func (cs *confirmationService) displaySummary(req Request) {
	fmt.Fprintln(cs.out, cs.colorize(req.Title, cs.theme().Primary))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	for _, kv := range req.Summary {
		fmt.Fprintf(cs.out, "%s: %s\n", kv[0], kv[1])
	}
	if req.Destructive {
		fmt.Fprintln(cs.out, cs.colorize("Files and tables in scope will be overwritten. Changes made since the restore point are lost.", cs.theme().Error))
	}
	fmt.Fprintln(cs.out)
}

func (cs *confirmationService) displayDetails(req Request) {
	if len(req.Details) == 0 {
		fmt.Fprintln(cs.out, "No further details")
		return
	}
	fmt.Fprintln(cs.out, strings.Repeat("-", 50))
	for _, line := range req.Details {
		fmt.Fprintf(cs.out, "  %s\n", line)
	}
	fmt.Fprintln(cs.out, strings.Repeat("-", 50))
}

func (cs *confirmationService) prompt() (string, error) {
	fmt.Fprint(cs.out, "Proceed? [y/N/d]: ")
	input, err := cs.reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
