package cli

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// spinner shows an indeterminate progress indicator with elapsed time while the engine runs.
type spinner struct {
	bar  *progressbar.ProgressBar
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startSpinner(enabled bool, description string) *spinner {
	return startSpinnerTo(enabled, os.Stderr, description)
}

func startSpinnerTo(enabled bool, w io.Writer, description string) *spinner {
	s := &spinner{}
	if !enabled {
		return s
	}

	s.bar = progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				_ = s.bar.Finish()
				return
			case <-ticker.C:
				_ = s.bar.Add(1)
			}
		}
	}()
	return s
}

func (s *spinner) Describe(description string) {
	if s.bar != nil {
		s.bar.Describe(description)
	}
}

// Stop is safe to call more than once and on a disabled spinner.
func (s *spinner) Stop() {
	if s.bar == nil {
		return
	}
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
}
