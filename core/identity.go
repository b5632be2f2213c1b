package core

import (
	"context"
	"strings"
	"unicode"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/internal/repo"
	"github.com/sciexp/flytezen/schema"
)

// DeriveIdentity builds the version identity from source-control provenance.
// Failures are not retried: a tree without provenance cannot be versioned.
func DeriveIdentity(ctx context.Context, src SourceControl) (schema.VersionIdentity, error) {
	if src == nil {
		return schema.VersionIdentity{}, NewError(ErrorProvenance, "derive identity", errNoSourceControl)
	}
	log := pslog.Ctx(ctx)

	branch, err := src.Branch(ctx)
	if err != nil {
		return schema.VersionIdentity{}, NewError(ErrorProvenance, "read branch", err)
	}
	revision, err := src.ShortRevision(ctx)
	if err != nil {
		return schema.VersionIdentity{}, NewError(ErrorProvenance, "read revision", err)
	}
	remote, err := src.RemoteURL(ctx)
	if err != nil {
		return schema.VersionIdentity{}, NewError(ErrorProvenance, "read remote url", err)
	}
	name, err := repo.NameFromRemote(remote)
	if err != nil {
		return schema.VersionIdentity{}, NewError(ErrorProvenance, "parse remote url", err)
	}

	id := schema.VersionIdentity{
		Repo:     strings.TrimSpace(name),
		Branch:   strings.TrimSpace(branch),
		Revision: strings.TrimSpace(revision),
	}
	for _, part := range []string{id.Repo, id.Branch, id.Revision} {
		if part == "" {
			return schema.VersionIdentity{}, NewError(ErrorProvenance, "derive identity", errEmptyProvenance)
		}
		if hasUpper(part) {
			log.Warn("provenance contains capitals; converting to lowercase", "value", part)
		}
	}
	id.Repo = strings.ToLower(id.Repo)
	id.Branch = strings.ToLower(id.Branch)
	id.Revision = strings.ToLower(id.Revision)
	log.Debug("version identity derived", "repo", id.Repo, "branch", id.Branch, "revision", id.Revision)
	return id, nil
}

func hasUpper(value string) bool {
	for _, r := range value {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
