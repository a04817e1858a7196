package domain

import (
	"time"

	"github.com/cuongbtq/console-automator/internal/queue"
)

// Outcome is the result of processing one job
type Outcome struct {
	Job      queue.Job
	Status   string
	Err      error
	Skipped  int
	Duration time.Duration
}
