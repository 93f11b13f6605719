package catalog

import (
	"fmt"

	"paperctl/internal/mcversion"
)

// Change is one commit included in a catalog build.
type Change struct {
	Commit  string `json:"commit"`
	Summary string `json:"summary"`
	Message string `json:"message"`
}

// Build is a remote catalog entry. Immutable once fetched.
type Build struct {
	ProjectID    string
	ProjectName  string
	Version      mcversion.Version
	Number       int
	Time         string
	Changes      []Change
	DownloadName string
	SHA256       string
}

func (b *Build) String() string {
	return fmt.Sprintf("%s-%d", b.ProjectName, b.Number)
}

// InconsistencyError reports catalog state that cannot be trusted, e.g. a
// maximum known build lower than one we already resolved. Fatal: retrying
// cannot fix an inconsistent remote.
type InconsistencyError struct {
	Version mcversion.Version
	Reason  string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent catalog state for %s: %s", e.Version, e.Reason)
}

// RequestError reports a failed catalog API call.
type RequestError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog request %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("catalog request %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Err }
