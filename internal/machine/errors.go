package machine

import "fmt"

// CommandError reports a failed one-shot mutating backend command. It is
// fatal for the enclosing operation: the last committed state persists
// unchanged and a later create() resumes from it. Mutating commands are
// never retried automatically; blind retries of destructive operations
// are unsafe.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("backend command %s failed: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// QueryError reports a status or info query that returned empty or
// unparseable output. It is fatal for the calling operation.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("backend query %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
