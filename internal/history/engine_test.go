package history

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/gitstore"
)

var testTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		CommitterName:  "tester",
		CommitterEmail: "tester@example.com",
		CommitTime:     testTime,
	}
}

func newTestEngine(t *testing.T, store *gitstore.Store) *Engine {
	t.Helper()
	engine, err := NewEngine(store, testConfig())
	require.NoError(t, err)
	return engine
}

func origTree(readme string) deb.TreeContent {
	return deb.TreeContent{"README": {Data: []byte(readme)}}
}

// changelogDelta builds the packaging delta of one upload: it creates
// debian/changelog recording the package version.
func changelogDelta(pkgVersion string) []byte {
	return []byte("" +
		"--- /dev/null\n" +
		"+++ pkg/debian/changelog\n" +
		"@@ -0,0 +1 @@\n" +
		fmt.Sprintf("+pkg (%s) unstable; urgency=low\n", pkgVersion))
}

func makeArtifact(version string, orig deb.TreeContent) deb.Artifact {
	return deb.Artifact{
		Source:  "pkg",
		Version: deb.MustParseVersion(version),
		Orig:    orig,
		Delta:   changelogDelta(version),
	}
}

func branchTip(t *testing.T, store *gitstore.Store, branch string) plumbing.Hash {
	t.Helper()
	h, ok, err := store.Ref(plumbing.NewBranchReferenceName(branch))
	require.NoError(t, err)
	require.True(t, ok, "branch %s exists", branch)
	return h
}

func commitOf(t *testing.T, store *gitstore.Store, h plumbing.Hash) *object.Commit {
	t.Helper()
	c, err := store.Commit(h)
	require.NoError(t, err)
	return c
}

// Scenario: one upstream release followed by two packaging-only uploads.
// The upstream line has a single tagged commit; the packaging line is a
// merge-rooted chain of three commits.
func TestPackagingOnlyUploadsStayLinear(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	artifacts := []deb.Artifact{
		makeArtifact("1.0-1", origTree("one\n")),
		makeArtifact("1.0-2", nil),
		makeArtifact("1.0-3", nil),
	}
	result, err := engine.Run(artifacts)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	// Upstream line: exactly one commit, tagged.
	upstreamTip := branchTip(t, store, "upstream")
	upstreamCommit := commitOf(t, store, upstreamTip)
	assert.Empty(t, upstreamCommit.ParentHashes)
	tagged, err := store.Tag("upstream-1.0")
	require.NoError(t, err)
	assert.Equal(t, upstreamTip, tagged)

	// Packaging line: first commit parents on the upstream snapshot, the
	// two packaging-only uploads are single-parent continuations.
	p3 := commitOf(t, store, branchTip(t, store, "debian/latest"))
	require.Len(t, p3.ParentHashes, 1)
	p2 := commitOf(t, store, p3.ParentHashes[0])
	require.Len(t, p2.ParentHashes, 1)
	p1 := commitOf(t, store, p2.ParentHashes[0])
	require.Len(t, p1.ParentHashes, 1)
	assert.Equal(t, upstreamTip, p1.ParentHashes[0])

	content, err := store.TreeContentOf(p3.Hash)
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(content["README"].Data))
	assert.Contains(t, string(content["debian/changelog"].Data), "1.0-3")

	for _, v := range []string{"1.0-1", "1.0-2", "1.0-3"} {
		_, err := store.Tag("debian/" + v)
		assert.NoError(t, err, "packaging tag for %s", v)
	}
}

// Scenario: two upstream releases with no intervening packaging work. The
// second packaging commit is a clean synthesized merge of the new upstream.
func TestNewUpstreamSynthesizesCleanMerge(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	result, err := engine.Run([]deb.Artifact{
		makeArtifact("1.0-1", origTree("one\n")),
		makeArtifact("2.0-1", origTree("two\n")),
	})
	require.NoError(t, err)
	for _, o := range result.Outcomes {
		assert.Empty(t, o.Conflicts)
	}

	// Upstream line grew linearly.
	u2 := commitOf(t, store, branchTip(t, store, "upstream"))
	require.Len(t, u2.ParentHashes, 1)
	u1Tag, err := store.Tag("upstream-1.0")
	require.NoError(t, err)
	assert.Equal(t, u1Tag, u2.ParentHashes[0])
	u2Tag, err := store.Tag("upstream-2.0")
	require.NoError(t, err)
	assert.Equal(t, u2.Hash, u2Tag)

	// Packaging tip is a merge of previous tip and the new upstream.
	p2 := commitOf(t, store, branchTip(t, store, "debian/latest"))
	require.Len(t, p2.ParentHashes, 2)
	p1 := commitOf(t, store, p2.ParentHashes[0])
	assert.Len(t, p1.ParentHashes, 1)
	assert.Equal(t, u2.Hash, p2.ParentHashes[1])

	// The merge tree is exactly delta-applied upstream content.
	content, err := store.TreeContentOf(p2.Hash)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(content["README"].Data))
	assert.Contains(t, string(content["debian/changelog"].Data), "2.0-1")
}

// Scenario: the packaging tip advanced with unrelated work between imports.
// The next import must perform a real three-way merge and surface conflicts
// instead of synthesizing a clean one.
func TestDivergedTipGetsThreeWayMerge(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	_, err = engine.Run([]deb.Artifact{makeArtifact("1.0-1", origTree("one\n"))})
	require.NoError(t, err)

	// Unrelated commit moves the packaging tip past the last-import marker.
	tip := branchTip(t, store, "debian/latest")
	content, err := store.TreeContentOf(tip)
	require.NoError(t, err)
	content["local.txt"] = deb.File{Data: []byte("local work\n")}
	tree, err := store.CreateTree(content)
	require.NoError(t, err)
	userCommit, err := store.CreateCommit(tree, []plumbing.Hash{tip}, "local work\n", object.Signature{
		Name: "user", Email: "user@example.com", When: testTime,
	})
	require.NoError(t, err)
	require.NoError(t, store.SetRef(plumbing.NewBranchReferenceName("debian/latest"), userCommit))

	engine2 := newTestEngine(t, store)
	result, err := engine2.Run([]deb.Artifact{makeArtifact("2.0-1", origTree("two\n"))})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	outcome := result.Outcomes[0]
	require.NotEmpty(t, outcome.Conflicts, "divergent import must surface conflicts")

	p := commitOf(t, store, branchTip(t, store, "debian/latest"))
	require.Len(t, p.ParentHashes, 2)
	assert.Equal(t, userCommit, p.ParentHashes[0])

	merged, err := store.TreeContentOf(p.Hash)
	require.NoError(t, err)
	// The user's work survives and the conflicting changelog carries markers.
	assert.Equal(t, "local work\n", string(merged["local.txt"].Data))
	assert.True(t, strings.Contains(string(merged["debian/changelog"].Data), "<<<<<<<"),
		"changelog has conflict markers: %q", merged["debian/changelog"].Data)
}

// Scenario: importing an upstream version older than the tagged maximum.
// The hard method records it on a side branch without moving the linear tip
// content backwards, and produces no conflicts.
func TestOutOfOrderUpstreamUsesHardMethod(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	_, err = engine.Run([]deb.Artifact{
		makeArtifact("1.0-1", origTree("one\n")),
		makeArtifact("2.0-1", origTree("two\n")),
	})
	require.NoError(t, err)
	v2Tip := branchTip(t, store, "upstream")

	engine2 := newTestEngine(t, store)
	result, err := engine2.Run([]deb.Artifact{makeArtifact("1.5-1", origTree("onefive\n"))})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].HardImport)
	assert.Empty(t, result.Outcomes[0].Conflicts)

	// The snapshot is tagged and parented on its historical predecessor.
	snapshot, err := store.Tag("upstream-1.5")
	require.NoError(t, err)
	snapshotCommit := commitOf(t, store, snapshot)
	snapContent, err := store.TreeContentOf(snapshot)
	require.NoError(t, err)
	assert.Equal(t, "onefive\n", string(snapContent["README"].Data))
	v1Tag, err := store.Tag("upstream-1.0")
	require.NoError(t, err)
	require.Len(t, snapshotCommit.ParentHashes, 1)
	assert.Equal(t, v1Tag, snapshotCommit.ParentHashes[0])

	// The upstream tip is a merge keeping the newer release's tree.
	newTip := commitOf(t, store, branchTip(t, store, "upstream"))
	require.Len(t, newTip.ParentHashes, 2)
	assert.Equal(t, v2Tip, newTip.ParentHashes[0])
	assert.Equal(t, snapshot, newTip.ParentHashes[1])
	tipContent, err := store.TreeContentOf(newTip.Hash)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(tipContent["README"].Data))

	// The packaging merge parents on the side snapshot.
	p := commitOf(t, store, branchTip(t, store, "debian/latest"))
	require.Len(t, p.ParentHashes, 2)
	assert.Equal(t, snapshot, p.ParentHashes[1])
}

// Tilde versions are routine (release candidates, dfsg repacks) but '~' is
// not a legal ref-name character, so every tag spelling must be mapped.
func TestTildeVersionTagsAreRefSafe(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	_, err = engine.Run([]deb.Artifact{makeArtifact("1.0~rc1-1", origTree("rc\n"))})
	require.NoError(t, err)

	snapshot, err := store.Tag("upstream-1.0_rc1")
	require.NoError(t, err)
	assert.Equal(t, branchTip(t, store, "upstream"), snapshot)
	pkgTag, err := store.Tag("debian/1.0_rc1-1")
	require.NoError(t, err)
	assert.Equal(t, branchTip(t, store, "debian/latest"), pkgTag)

	tags, err := store.Tags()
	require.NoError(t, err)
	for name := range tags {
		assert.NotContains(t, name, "~", name)
	}

	// A fresh engine reads the mapped tags back as the real version and
	// recognizes the re-upload.
	engine2 := newTestEngine(t, store)
	second, err := engine2.Run([]deb.Artifact{makeArtifact("1.0~rc1-1", origTree("rc\n"))})
	require.NoError(t, err)
	require.Len(t, second.Outcomes, 1)
	assert.True(t, second.Outcomes[0].Skipped)
}

// Scenario: a diff-only upload whose exact upstream version was never tagged.
// The base falls back to the newest older imported upstream and the commit
// stays a single-parent continuation of the packaging line.
func TestDiffOnlyUploadForUntaggedUpstreamUsesLastImported(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	result, err := engine.Run([]deb.Artifact{
		makeArtifact("1.0-1", origTree("one\n")),
		makeArtifact("1.1-1", nil),
	})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	assert.False(t, result.Outcomes[1].NewUpstream)

	p2 := commitOf(t, store, branchTip(t, store, "debian/latest"))
	require.Len(t, p2.ParentHashes, 1)
	p1, err := store.Tag("debian/1.0-1")
	require.NoError(t, err)
	assert.Equal(t, p1, p2.ParentHashes[0])

	// The tree is the delta applied to the 1.0 upstream content.
	content, err := store.TreeContentOf(p2.Hash)
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(content["README"].Data))
	assert.Contains(t, string(content["debian/changelog"].Data), "1.1-1")

	// The untagged upstream version stays untagged.
	_, err = store.Tag("upstream-1.1")
	var notFound *gitstore.TagNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestReplayIsDeterministic(t *testing.T) {
	series := []deb.Artifact{
		makeArtifact("1.0-1", origTree("one\n")),
		makeArtifact("1.0-2", nil),
		makeArtifact("2.0-1", origTree("two\n")),
	}

	run := func() (plumbing.Hash, plumbing.Hash) {
		store, err := gitstore.NewInMemory()
		require.NoError(t, err)
		engine := newTestEngine(t, store)
		result, err := engine.Run(series)
		require.NoError(t, err)
		return result.UpstreamTip, result.PackagingTip
	}

	u1, p1 := run()
	u2, p2 := run()
	assert.Equal(t, u1, u2)
	assert.Equal(t, p1, p2)
}

func TestRerunIsNoOp(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	series := []deb.Artifact{
		makeArtifact("1.0-1", origTree("one\n")),
		makeArtifact("2.0-1", origTree("two\n")),
	}

	engine := newTestEngine(t, store)
	first, err := engine.Run(series)
	require.NoError(t, err)

	engine2 := newTestEngine(t, store)
	second, err := engine2.Run(series)
	require.NoError(t, err)

	for _, o := range second.Outcomes {
		assert.True(t, o.Skipped, "version %s", o.Version)
	}
	assert.Equal(t, first.UpstreamTip, branchTip(t, store, "upstream"))
	assert.Equal(t, first.PackagingTip, branchTip(t, store, "debian/latest"))
}

func TestMissingBaseFailsWithoutOverride(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	_, err = engine.Run([]deb.Artifact{makeArtifact("1.0-2", nil)})
	var artifactErr *ArtifactError
	require.ErrorAs(t, err, &artifactErr)
	assert.Equal(t, "1.0-2", artifactErr.Version.String())
	var noBase *NoBaseError
	require.ErrorAs(t, err, &noBase)

	// Nothing moved.
	_, ok, err := store.Ref(plumbing.NewBranchReferenceName("debian/latest"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBaseOverrideResolvesMissingBase(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)

	tree, err := store.CreateTree(origTree("imported elsewhere\n"))
	require.NoError(t, err)
	base, err := store.CreateCommit(tree, nil, "external upstream\n", object.Signature{
		Name: "tester", Email: "tester@example.com", When: testTime,
	})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.BaseOverride = base
	engine, err := NewEngine(store, cfg)
	require.NoError(t, err)

	result, err := engine.Run([]deb.Artifact{makeArtifact("1.0-2", nil)})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	content, err := store.TreeContentOf(result.PackagingTip)
	require.NoError(t, err)
	assert.Equal(t, "imported elsewhere\n", string(content["README"].Data))
	assert.Contains(t, string(content["debian/changelog"].Data), "1.0-2")
}

func TestDuplicateVersionAbortsRun(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)

	a := makeArtifact("1.0-1", origTree("one\n"))
	b := makeArtifact("1.0-1", origTree("other\n"))
	_, err = engine.Run([]deb.Artifact{a, b})
	var dup *deb.DuplicateVersionError
	require.ErrorAs(t, err, &dup)
}

func TestImporterRejectsAlreadyTaggedVersion(t *testing.T) {
	store, err := gitstore.NewInMemory()
	require.NoError(t, err)
	engine := newTestEngine(t, store)
	_, err = engine.Run([]deb.Artifact{makeArtifact("1.0-1", origTree("one\n"))})
	require.NoError(t, err)

	a := makeArtifact("1.0-2", origTree("one\n"))
	_, err = engine.importer.Import(&a, branchTip(t, store, "upstream"), object.Signature{
		Name: "tester", Email: "tester@example.com", When: testTime,
	})
	var outOfOrder *VersionOutOfOrderError
	require.True(t, errors.As(err, &outOfOrder))
}
