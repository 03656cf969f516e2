package history

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/gitstore"
	"github.com/breezy-team/breezy-debian/internal/tagindex"
)

// Importer creates and extends the upstream line. The line is linear except
// for hard-path incorporation, where a late-arriving historical version is
// committed on a side branch and merged into the tip with the tip's tree as
// the predetermined winner, so no conflict can arise.
type Importer struct {
	store *gitstore.Store
	index *tagindex.Index
}

// NewImporter returns an importer writing through the given store and index.
func NewImporter(store *gitstore.Store, index *tagindex.Index) *Importer {
	return &Importer{store: store, index: index}
}

// ImportResult describes a completed upstream import. Only objects have been
// written; the caller owns all ref and tag updates.
type ImportResult struct {
	// Snapshot is the commit whose tree is the pristine upstream content.
	// This is the commit the upstream tag must bind to.
	Snapshot plumbing.Hash

	// Tip is the new upstream branch tip: Snapshot itself on the easy path,
	// the winner-predetermined merge commit on the hard path.
	Tip plumbing.Hash

	// Hard reports that the side-branch strategy was used.
	Hard bool
}

// Import commits the artifact's upstream content. The easy path extends the
// tip linearly and is chosen exactly when the version is newer than every
// tagged version; otherwise the hard path keeps the linear tip content intact.
func (im *Importer) Import(a *deb.Artifact, upstreamTip plumbing.Hash, sig object.Signature) (*ImportResult, error) {
	upstream := a.Version.UpstreamVersion()
	if _, err := im.index.Resolve(upstream); err == nil {
		// The engine resolves already-imported versions before calling here.
		return nil, &VersionOutOfOrderError{Upstream: upstream}
	}

	tree, err := im.store.CreateTree(a.Orig)
	if err != nil {
		return nil, fmt.Errorf("create upstream tree: %w", err)
	}

	maxTagged, haveTags := im.index.MaxVersion()
	if !haveTags || a.Version.Upstream().Compare(maxTagged) > 0 {
		return im.importLinear(a, upstreamTip, tree, sig)
	}
	return im.importSide(a, upstreamTip, tree, sig)
}

func (im *Importer) importLinear(a *deb.Artifact, tip, tree plumbing.Hash, sig object.Signature) (*ImportResult, error) {
	var parents []plumbing.Hash
	if tip != plumbing.ZeroHash {
		parents = append(parents, tip)
	}
	commit, err := im.store.CreateCommit(tree, parents,
		fmt.Sprintf("Import upstream version %s\n", a.Version.UpstreamVersion()), sig)
	if err != nil {
		return nil, fmt.Errorf("commit upstream snapshot: %w", err)
	}
	slog.Debug("Imported upstream snapshot", "upstream", a.Version.UpstreamVersion(), "commit", commit)
	return &ImportResult{Snapshot: commit, Tip: commit}, nil
}

func (im *Importer) importSide(a *deb.Artifact, tip, tree plumbing.Hash, sig object.Signature) (*ImportResult, error) {
	upstream := a.Version.UpstreamVersion()
	if tip == plumbing.ZeroHash {
		return nil, &VersionOutOfOrderError{Upstream: upstream}
	}

	// Parent the snapshot on its historical predecessor when one is tagged,
	// so the side branch reads as the lineage it belongs to.
	var parents []plumbing.Hash
	if _, prior, err := im.index.LastImported(a.Version.Upstream()); err == nil {
		parents = append(parents, prior)
	} else {
		var notFound *tagindex.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	snapshot, err := im.store.CreateCommit(tree, parents,
		fmt.Sprintf("Import upstream version %s\n", upstream), sig)
	if err != nil {
		return nil, fmt.Errorf("commit upstream snapshot: %w", err)
	}

	// The merge keeps the tip's tree: the tip already holds a newer upstream,
	// so the import is recorded without disturbing the linear content.
	tipTree, err := im.store.TreeHashOf(tip)
	if err != nil {
		return nil, err
	}
	mergeCommit, err := im.store.CreateCommit(tipTree, []plumbing.Hash{tip, snapshot},
		fmt.Sprintf("Incorporate upstream version %s\n", upstream), sig)
	if err != nil {
		return nil, fmt.Errorf("commit upstream incorporation merge: %w", err)
	}
	slog.Debug("Incorporated out-of-order upstream snapshot",
		"upstream", upstream, "snapshot", snapshot, "merge", mergeCommit)
	return &ImportResult{Snapshot: snapshot, Tip: mergeCommit, Hard: true}, nil
}
