package gitstate

import "fmt"

// InvalidRepositoryError reports a path that was expected to be a git
// repository (the scan root or a registered submodule) but could not be
// opened as one.
type InvalidRepositoryError struct {
	Path string
	Err  error
}

func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("invalid git repository %s: %v", e.Path, e.Err)
}

func (e *InvalidRepositoryError) Unwrap() error { return e.Err }

// PhantomChangeError reports an internal inconsistency: the status report
// claimed a directory changed, but walking it produced no non-ignored entry.
type PhantomChangeError struct {
	Path string
	Flag StatusFlag
}

func (e *PhantomChangeError) Error() string {
	return fmt.Sprintf("status claimed a change (%s) but none was found under %s", e.Flag, e.Path)
}

// RevisionError reports a revision expression that could not be resolved.
type RevisionError struct {
	Expr string
	Err  error
}

func (e *RevisionError) Error() string {
	return fmt.Sprintf("cannot resolve revision %q: %v", e.Expr, e.Err)
}

func (e *RevisionError) Unwrap() error { return e.Err }
