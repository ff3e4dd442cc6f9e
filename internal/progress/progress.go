// Package progress renders single-line terminal progress for long
// benchmark runs.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Display prints in-place progress updates to a terminal. A quiet
// Display swallows everything, so callers never branch on verbosity.
type Display struct {
	startTime time.Time
	label     string
	quiet     bool
	output    io.Writer
	mu        sync.Mutex
}

func NewDisplay(quiet bool) *Display {
	return &Display{
		quiet:  quiet,
		output: os.Stderr,
	}
}

func (d *Display) SetOutput(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = w
}

// Start begins a labelled progress section, e.g. one benchmark run.
func (d *Display) Start(label string) {
	if d.quiet {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.label = label
	d.startTime = time.Now()
}

// Update rewrites the progress line with the current sample count. The
// first update of a section starts its elapsed-time counter when Start
// was not called explicitly.
func (d *Display) Update(done, total int) {
	if d.quiet {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startTime.IsZero() || done <= 1 {
		d.startTime = time.Now()
	}
	elapsed := time.Since(d.startTime).Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	label := d.label
	if label == "" {
		label = "benchmark"
	}
	fmt.Fprintf(d.output, "\033[K[%02d:%02d] %s: %d/%d samples\r",
		mins, secs, label, done, total)
}

// Stop clears the progress line.
func (d *Display) Stop() {
	if d.quiet {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.output, "\033[K")
}

func (d *Display) Printf(format string, args ...interface{}) {
	if d.quiet {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.output, "\033[K"+format+"\n", args...)
}
