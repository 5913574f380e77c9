package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates a status line on w while a quiet phase runs, such as
// crawling a remote index before the selection list can open.
type Spinner struct {
	w       io.Writer
	message string

	parent   context.Context
	ctx      context.Context
	stop     context.CancelFunc
	finished chan struct{}
	started  bool
	once     sync.Once
	mu       sync.Mutex
}

// newSpinner returns a spinner that also stops once ctx is done.
func newSpinner(ctx context.Context, w io.Writer, message string) *Spinner {
	sctx, stop := context.WithCancel(ctx)
	return &Spinner{
		w:        w,
		message:  message,
		parent:   ctx,
		ctx:      sctx,
		stop:     stop,
		finished: make(chan struct{}),
	}
}

// Start draws frames from a new goroutine until Stop or cancellation.
func (s *Spinner) Start() {
	s.started = true
	go func() {
		defer close(s.finished)
		tick := time.NewTicker(spinnerInterval)
		defer tick.Stop()

		for i := 0; ; i++ {
			select {
			case <-s.ctx.Done():
				s.clearLine()
				return
			case <-tick.C:
				s.mu.Lock()
				fmt.Fprintf(s.w, "\r%s %s",
					styleIconSpinner.Render(spinnerFrames[i%len(spinnerFrames)]),
					StyleDim.Render(s.message))
				s.mu.Unlock()
			}
		}
	}()
}

// Stop halts the animation and blanks the line. Calling it again, or
// without Start, is harmless.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		s.stop()
		if s.started {
			<-s.finished
		}
		s.clearLine()
	})
}

func (s *Spinner) clearLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", len(s.message)+4))
}

// StopWithSuccess stops the spinner and prints a success line in its place.
func (s *Spinner) StopWithSuccess(format string, args ...any) {
	s.Stop()
	printSuccess(s.w, format, args...)
}

// StopWithError stops the spinner and prints an error line in its place.
func (s *Spinner) StopWithError(format string, args ...any) {
	s.Stop()
	printError(s.w, format, args...)
}

// Cancelled reports whether the caller's context ended, as opposed to the
// spinner being stopped normally.
func (s *Spinner) Cancelled() bool {
	return s.parent.Err() != nil
}
