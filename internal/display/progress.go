package display

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// JobProgress follows the 0-100 progress of a resumable job
type JobProgress struct {
	bar  *progressbar.ProgressBar
	last int
}

// NewJobProgress creates a progress bar on w
func NewJobProgress(w io.Writer, description string) *JobProgress {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
	return &JobProgress{bar: bar}
}

// Update moves the bar to progress and shows detail next to it. Progress
// never moves backwards.
func (p *JobProgress) Update(progress int, detail string) error {
	if detail != "" {
		p.bar.Describe(detail)
	}
	if progress < p.last {
		return nil
	}
	if progress > 100 {
		progress = 100
	}
	p.last = progress
	return p.bar.Set(progress)
}

// Finish fills the bar
func (p *JobProgress) Finish() error {
	return p.bar.Finish()
}

// Last returns the last progress shown
func (p *JobProgress) Last() int {
	return p.last
}
