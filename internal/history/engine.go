// Package history reconstructs the dual-lineage revision history of a source
// package: an upstream line of pristine release snapshots and a packaging
// line carrying the distribution delta on top. It processes a sorted artifact
// series one upload at a time, resumably: building a branch from scratch and
// extending an existing one are the same operation.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/delta"
	"github.com/breezy-team/breezy-debian/internal/gitstore"
	"github.com/breezy-team/breezy-debian/internal/merge"
	"github.com/breezy-team/breezy-debian/internal/tagindex"
)

// LastImportRef marks the packaging commit created by the most recent import.
// A packaging tip that moved past this marker means someone committed real
// work on the packaging line, and clean merges may no longer be synthesized.
const LastImportRef = plumbing.ReferenceName("refs/debimport/last-import")

// Config carries the layout and identity settings of an engine run.
type Config struct {
	UpstreamBranch  string // default "upstream"
	PackagingBranch string // default "debian/latest"

	UpstreamTagPrefix  string // default "upstream-"
	PackagingTagPrefix string // default "debian/"

	CommitterName  string
	CommitterEmail string

	// CommitTime stamps every commit of the run. When zero it is captured
	// once at Run start; setting it explicitly makes replays byte-identical.
	CommitTime time.Time

	// BaseOverride resolves a missing upstream base for deltas whose
	// upstream version was never tagged. Without it such artifacts fail.
	BaseOverride plumbing.Hash
}

func (c *Config) applyDefaults() {
	if c.UpstreamBranch == "" {
		c.UpstreamBranch = "upstream"
	}
	if c.PackagingBranch == "" {
		c.PackagingBranch = "debian/latest"
	}
	if c.UpstreamTagPrefix == "" {
		c.UpstreamTagPrefix = tagindex.DefaultPrefix
	}
	if c.PackagingTagPrefix == "" {
		c.PackagingTagPrefix = "debian/"
	}
	if c.CommitterName == "" {
		c.CommitterName = "debimport"
	}
	if c.CommitterEmail == "" {
		c.CommitterEmail = "debimport@localhost"
	}
}

// Engine drives the whole pipeline: sort the series, then per artifact
// resolve the base, import the upstream snapshot if the upload ships one,
// apply the delta, synthesize the packaging commit and finally move refs.
// Refs move only after every object of the artifact exists, so a failed
// artifact leaves both branches exactly where the last success left them.
type Engine struct {
	store    *gitstore.Store
	index    *tagindex.Index
	importer *Importer
	synth    *Synthesizer
	cfg      Config
}

// NewEngine builds an engine over the store, rebuilding the tag index from
// existing tags.
func NewEngine(store *gitstore.Store, cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	index, err := tagindex.Load(store, cfg.UpstreamTagPrefix)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		index:    index,
		importer: NewImporter(store, index),
		synth:    NewSynthesizer(store),
		cfg:      cfg,
	}, nil
}

// ArtifactOutcome records what one artifact produced.
type ArtifactOutcome struct {
	Version     deb.Version
	Commit      plumbing.Hash
	Skipped     bool
	NewUpstream bool
	HardImport  bool
	Conflicts   []merge.Conflict
}

// RunResult summarizes a completed run.
type RunResult struct {
	RunID        string
	UpstreamTip  plumbing.Hash
	PackagingTip plumbing.Hash
	Outcomes     []ArtifactOutcome
}

type runState struct {
	upstreamTip  plumbing.Hash
	packagingTip plumbing.Hash
	expected     plumbing.Hash
	haveExpected bool
}

// Run processes the artifact series in version order, aborting at the first
// failure. Already-imported versions are skipped, so re-running over a fully
// built branch is a no-op.
func (e *Engine) Run(artifacts []deb.Artifact) (*RunResult, error) {
	runID := uuid.NewString()
	log := slog.With("run", runID)

	sorted, err := deb.SortArtifacts(artifacts)
	if err != nil {
		return nil, err
	}

	sig := object.Signature{
		Name:  e.cfg.CommitterName,
		Email: e.cfg.CommitterEmail,
		When:  e.cfg.CommitTime,
	}
	if sig.When.IsZero() {
		sig.When = time.Now().UTC()
	}

	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	log.Info("Starting import run",
		"artifacts", len(sorted),
		"upstream_tip", state.upstreamTip,
		"packaging_tip", state.packagingTip)

	result := &RunResult{RunID: runID}
	for i := range sorted {
		a := &sorted[i]
		outcome, err := e.processArtifact(a, state, sig, log)
		if err != nil {
			return nil, &ArtifactError{Version: a.Version, Err: err}
		}
		result.Outcomes = append(result.Outcomes, *outcome)
	}

	result.UpstreamTip = state.upstreamTip
	result.PackagingTip = state.packagingTip
	log.Info("Import run finished",
		"imported", countImported(result.Outcomes),
		"skipped", len(result.Outcomes)-countImported(result.Outcomes))
	return result, nil
}

func (e *Engine) loadState() (*runState, error) {
	state := &runState{}
	var err error
	if state.upstreamTip, _, err = e.store.Ref(plumbing.NewBranchReferenceName(e.cfg.UpstreamBranch)); err != nil {
		return nil, err
	}
	if state.packagingTip, _, err = e.store.Ref(plumbing.NewBranchReferenceName(e.cfg.PackagingBranch)); err != nil {
		return nil, err
	}
	marker, ok, err := e.store.Ref(LastImportRef)
	if err != nil {
		return nil, err
	}
	state.expected, state.haveExpected = marker, ok
	return state, nil
}

func (e *Engine) processArtifact(a *deb.Artifact, state *runState, sig object.Signature, log *slog.Logger) (*ArtifactOutcome, error) {
	pkgTag := e.cfg.PackagingTagPrefix + deb.TagComponent(a.Version.String())
	if commit, err := e.store.Tag(pkgTag); err == nil {
		log.Debug("Version already imported, skipping", "version", a.Version, "commit", commit)
		return &ArtifactOutcome{Version: a.Version, Commit: commit, Skipped: true}, nil
	} else {
		var notFound *gitstore.TagNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Resolve the upstream base, importing the snapshot when the upload
	// ships a tarball for a version not yet tagged.
	upstream := a.Version.UpstreamVersion()
	var (
		imp *ImportResult
		u   plumbing.Hash
	)
	if h, err := e.index.Resolve(upstream); err == nil {
		u = h
	} else if a.HasOrig() {
		if imp, err = e.importer.Import(a, state.upstreamTip, sig); err != nil {
			return nil, err
		}
		u = imp.Snapshot
	} else if _, h, err := e.index.LastImported(a.Version.Upstream()); err == nil {
		u = h
	} else if e.cfg.BaseOverride != plumbing.ZeroHash {
		u = e.cfg.BaseOverride
	} else {
		return nil, &NoBaseError{Version: a.Version}
	}

	// Apply the packaging delta onto the resolved upstream tree.
	var baseTree deb.TreeContent
	if imp != nil {
		baseTree = a.Orig
	} else {
		var err error
		if baseTree, err = e.store.TreeContentOf(u); err != nil {
			return nil, err
		}
	}
	resultTree := baseTree
	if len(a.Delta) > 0 {
		var err error
		if resultTree, err = delta.Apply(a.Delta, baseTree); err != nil {
			return nil, err
		}
	}

	// Synthesize the packaging commit.
	diverged := state.packagingTip != plumbing.ZeroHash &&
		!(state.haveExpected && state.expected == state.packagingTip)
	res, err := e.synth.Synthesize(MergeInput{
		PackagingTip: state.packagingTip,
		Diverged:     diverged,
		Upstream:     u,
		NewUpstream:  imp != nil,
		Tree:         resultTree,
		Message:      fmt.Sprintf("Import package version %s\n", a.Version),
		Signature:    sig,
	})
	if err != nil {
		return nil, err
	}

	// All objects exist; move refs. Nothing before this point mutated
	// branch state, so a failure above left the repository untouched.
	if imp != nil {
		if err := e.index.Register(upstream, imp.Snapshot); err != nil {
			return nil, err
		}
		if err := e.store.SetRef(plumbing.NewBranchReferenceName(e.cfg.UpstreamBranch), imp.Tip); err != nil {
			return nil, err
		}
		state.upstreamTip = imp.Tip
	}
	if err := e.store.SetRef(plumbing.NewBranchReferenceName(e.cfg.PackagingBranch), res.Commit); err != nil {
		return nil, err
	}
	if err := e.store.SetTag(pkgTag, res.Commit); err != nil {
		return nil, err
	}
	if err := e.store.SetRef(LastImportRef, res.Commit); err != nil {
		return nil, err
	}
	state.packagingTip = res.Commit
	state.expected = res.Commit
	state.haveExpected = true

	log.Info("Imported package version",
		"version", a.Version,
		"commit", res.Commit,
		"new_upstream", imp != nil,
		"diverged", diverged,
		"conflicts", len(res.Conflicts))
	return &ArtifactOutcome{
		Version:     a.Version,
		Commit:      res.Commit,
		NewUpstream: imp != nil,
		HardImport:  imp != nil && imp.Hard,
		Conflicts:   res.Conflicts,
	}, nil
}

func countImported(outcomes []ArtifactOutcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Skipped {
			n++
		}
	}
	return n
}
