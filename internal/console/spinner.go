package console

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows progress for long operations. It does nothing when stdout is
// not a terminal.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a stopped spinner showing message.
func NewSpinner(message string) *Spinner {
	on := IsTTY(os.Stdout)
	if styled != nil {
		on = *styled
	}
	if !on {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")
	return &Spinner{spinner: s}
}

// Start begins the animation.
func (s *Spinner) Start() {
	if s.spinner != nil {
		s.spinner.Start()
	}
}

// Stop ends the animation and clears its line.
func (s *Spinner) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
	}
}

// Enabled reports whether the spinner animates.
func (s *Spinner) Enabled() bool { return s.spinner != nil }
