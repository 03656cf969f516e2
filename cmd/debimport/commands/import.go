package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/breezy-team/breezy-debian/internal/config"
	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/dsc"
	"github.com/breezy-team/breezy-debian/internal/history"
	"github.com/breezy-team/breezy-debian/internal/tarball"
)

// ImportCmd implements the 'import' command.
type ImportCmd struct {
	Repo string   `short:"r" help:"Path to the git repository" default:"."`
	Dsc  []string `arg:"" name:"dsc" help:".dsc files to import" type:"existingfile"`
}

func (c *ImportCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tarballs := tarball.NewStore(cfg.TarballStore)
	var artifacts []deb.Artifact
	for _, path := range c.Dsc {
		artifact, err := dsc.DecodeFile(path)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if cfg.Package != "" && artifact.Source != cfg.Package {
			return fmt.Errorf("%s is for source package %q, configuration expects %q",
				path, artifact.Source, cfg.Package)
		}
		if artifact.HasOrig() {
			if err := cacheOrig(tarballs, artifact, filepath.Dir(path)); err != nil {
				return err
			}
		}
		slog.Debug("Decoded source package", "path", path,
			"version", artifact.Version, "orig", artifact.HasOrig())
		artifacts = append(artifacts, *artifact)
	}

	store, err := openStore(c.Repo, true)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	engine, err := history.NewEngine(store, history.Config{
		UpstreamBranch:     cfg.Branches.Upstream,
		PackagingBranch:    cfg.Branches.Packaging,
		UpstreamTagPrefix:  cfg.Tags.UpstreamPrefix,
		PackagingTagPrefix: cfg.Tags.PackagingPrefix,
		CommitterName:      cfg.Committer.Name,
		CommitterEmail:     cfg.Committer.Email,
	})
	if err != nil {
		return err
	}

	result, err := engine.Run(artifacts)
	if err != nil {
		return err
	}

	for _, outcome := range result.Outcomes {
		switch {
		case outcome.Skipped:
			fmt.Printf("skipped  %s (already imported)\n", outcome.Version)
		case len(outcome.Conflicts) > 0:
			fmt.Printf("imported %s with %d conflict(s):\n", outcome.Version, len(outcome.Conflicts))
			for _, conflict := range outcome.Conflicts {
				fmt.Printf("  %s\n", conflict)
			}
		default:
			fmt.Printf("imported %s\n", outcome.Version)
		}
	}
	fmt.Printf("%s is now at %s\n", cfg.Branches.Packaging, result.PackagingTip)
	return nil
}

// cacheOrig copies the upload's orig tarball into the store directory so later
// runs find it without the original upload lying around.
func cacheOrig(store *tarball.Store, artifact *deb.Artifact, dir string) error {
	upstream := artifact.Version.UpstreamVersion()
	if store.Contains(artifact.Source, upstream) {
		return nil
	}
	src := filepath.Join(dir, tarball.Name(artifact.Source, upstream))
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open orig tarball: %w", err)
	}
	defer f.Close()
	if _, err := store.Add(artifact.Source, upstream, f); err != nil {
		return err
	}
	return nil
}
