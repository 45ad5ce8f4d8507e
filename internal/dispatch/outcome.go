package dispatch

import "time"

// Stage identifies how far a session got before failing.
type Stage string

const (
	StageConnect Stage = "connect"
	StageAuth    Stage = "authenticate"
	StageExecute Stage = "execute"
)

// Outcome is the terminal result of running the command on a single node.
// Exactly one Outcome exists per node per run. A nonzero ExitCode is still
// a successful outcome; Err is set only for transport-level failures.
type Outcome struct {
	Node     string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	Stage    Stage // populated only when Err != nil
	Err      error
}

// Success builds a completed outcome carrying the remote exit code and output.
func Success(node string, stdout, stderr []byte, exitCode int) *Outcome {
	return &Outcome{
		Node:     node,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}
}

// Failure builds a failed outcome for the given stage.
func Failure(node string, stage Stage, err error) *Outcome {
	return &Outcome{
		Node:  node,
		Stage: stage,
		Err:   err,
	}
}

// Failed reports whether the session failed before the remote command
// could run to completion.
func (o *Outcome) Failed() bool {
	return o.Err != nil
}
