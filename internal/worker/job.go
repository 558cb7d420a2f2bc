package worker

import "errors"

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

var (
	ErrDispatcherBusy   = errors.New("server is busy, please retry")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Job is one unit of work. Jobs sharing a Key run in submission order and
// take turns with other keys.
type Job struct {
	Type JobType
	Key  string
	Fn   func()
	done chan struct{}
}
