package history

import (
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/gitstore"
	"github.com/breezy-team/breezy-debian/internal/merge"
)

// Synthesizer builds the commits of the packaging line. In the common case
// the commit tree is wholly determined by delta application, so merges are
// synthesized conflict-free; when the packaging tip has diverged from the
// recorded expectation, a genuine three-way merge is substituted so real
// concurrent work is surfaced instead of silently discarded.
type Synthesizer struct {
	store *gitstore.Store
}

// NewSynthesizer returns a synthesizer writing through the given store.
func NewSynthesizer(store *gitstore.Store) *Synthesizer {
	return &Synthesizer{store: store}
}

// MergeInput carries everything needed to build one packaging commit.
type MergeInput struct {
	// PackagingTip is the current packaging line head, zero for the first
	// packaging commit ever.
	PackagingTip plumbing.Hash

	// Diverged reports that PackagingTip is not the expected predecessor:
	// commits were made on the packaging line since the last import.
	Diverged bool

	// Upstream is the commit whose tree the delta was applied to.
	Upstream plumbing.Hash

	// NewUpstream reports that Upstream is introduced on the packaging line
	// by this artifact, making it the merge's second parent.
	NewUpstream bool

	// Tree is the delta application result.
	Tree deb.TreeContent

	Message   string
	Signature object.Signature
}

// SynthesizeResult is the built packaging commit plus any merge conflicts
// recorded on the divergent path.
type SynthesizeResult struct {
	Commit    plumbing.Hash
	Conflicts []merge.Conflict
}

// Synthesize builds the packaging commit for one artifact.
func (sy *Synthesizer) Synthesize(in MergeInput) (*SynthesizeResult, error) {
	content := in.Tree
	var conflicts []merge.Conflict

	if in.Diverged && in.PackagingTip != plumbing.ZeroHash {
		ours, err := sy.store.TreeContentOf(in.PackagingTip)
		if err != nil {
			return nil, err
		}
		base, err := sy.store.TreeContentOf(in.Upstream)
		if err != nil {
			return nil, err
		}
		content, conflicts = merge.Trees(base, ours, in.Tree)
		slog.Debug("Divergent packaging tip, performed three-way merge",
			"conflicts", len(conflicts))
	}

	tree, err := sy.store.CreateTree(content)
	if err != nil {
		return nil, fmt.Errorf("create packaging tree: %w", err)
	}

	var parents []plumbing.Hash
	switch {
	case in.PackagingTip == plumbing.ZeroHash && in.Upstream == plumbing.ZeroHash:
		// Root of a fresh packaging line with no upstream snapshot.
	case in.PackagingTip == plumbing.ZeroHash:
		parents = []plumbing.Hash{in.Upstream}
	case in.NewUpstream:
		parents = []plumbing.Hash{in.PackagingTip, in.Upstream}
	default:
		parents = []plumbing.Hash{in.PackagingTip}
	}

	commit, err := sy.store.CreateCommit(tree, parents, in.Message, in.Signature)
	if err != nil {
		return nil, fmt.Errorf("commit packaging snapshot: %w", err)
	}
	return &SynthesizeResult{Commit: commit, Conflicts: conflicts}, nil
}
