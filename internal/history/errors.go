package history

import (
	"fmt"

	"github.com/breezy-team/breezy-debian/internal/deb"
)

// VersionOutOfOrderError reports an upstream import requested for a version
// the importer cannot place. It indicates a logic error in orchestration, not
// bad input, and is fatal.
type VersionOutOfOrderError struct {
	Upstream string
}

func (e *VersionOutOfOrderError) Error() string {
	return fmt.Sprintf("upstream version %q cannot be imported in order", e.Upstream)
}

// NoBaseError reports that no base tree could be resolved for an upload that
// ships no orig tarball. Recoverable only through an explicit base override.
type NoBaseError struct {
	Version deb.Version
}

func (e *NoBaseError) Error() string {
	return fmt.Sprintf("no upstream base available for version %s", e.Version)
}

// ArtifactError attaches the failing artifact's version to an underlying
// error as it propagates out of the engine.
type ArtifactError struct {
	Version deb.Version
	Err     error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Version, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }
