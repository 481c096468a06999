// Package repopath resolves absolute paths under the mount root to
// (category, repo, path-within-repo) triples for daemon queries.
package repopath

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNotInMount marks a path outside the mount root.
var ErrNotInMount = errors.New("repopath: path is not under the mount root")

// ErrInvalid marks a path that does not reach a repo (e.g. the mount
// root itself, or a bare category directory for a repo lookup).
var ErrInvalid = errors.New("repopath: path does not identify a repo")

// RepoPath is the parsed form of a mounted file path. PathInRepo keeps
// its leading slash ("/sub/file.txt") and is empty for the repo root.
type RepoPath struct {
	Category   string
	Repo       string
	PathInRepo string
}

// DisplayPath returns the "category/repo" form the daemon resolves repo
// identifiers by.
func (r RepoPath) DisplayPath() string {
	return r.Category + "/" + r.Repo
}

// relative strips the mount-root prefix and any trailing slash. An empty
// remainder (the mount root itself) is invalid.
func relative(mountRoot, path string) (string, error) {
	prefix := strings.TrimRight(mountRoot, "/") + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", ErrNotInMount
	}

	rel := strings.TrimSuffix(path[len(prefix):], "/")
	if rel == "" {
		return "", ErrInvalid
	}

	return rel, nil
}

// ParseCategory returns the first path segment under the mount root.
// This is the category-only lookup: nothing past the category is
// required or inspected.
func ParseCategory(mountRoot, path string) (string, error) {
	rel, err := relative(mountRoot, path)
	if err != nil {
		return "", err
	}

	category, _, _ := strings.Cut(rel, "/")

	return category, nil
}

// Parse resolves a path to its repo triple. The first segment is the
// category, the second the repo; the remainder (possibly empty) is the
// path within the repo. A path with no second segment cannot identify a
// repo and is invalid.
func Parse(mountRoot, path string) (RepoPath, error) {
	rel, err := relative(mountRoot, path)
	if err != nil {
		return RepoPath{}, err
	}

	category, rest, found := strings.Cut(rel, "/")
	if !found || rest == "" {
		return RepoPath{}, ErrInvalid
	}

	repo, inRepo, found := strings.Cut(rest, "/")

	parsed := RepoPath{Category: category, Repo: repo}
	if found {
		parsed.PathInRepo = "/" + inRepo
	}

	return parsed, nil
}

// RepoResolver is the daemon-side lookup the querier needs.
type RepoResolver interface {
	GetRepoIDByPath(ctx context.Context, repoPath string) (string, error)
	IsFileCached(ctx context.Context, repoID, pathInRepo string) (bool, error)
}

// Querier answers "is this file cached" for consumers that only hold an
// absolute path (thumbnailers, preview generators).
type Querier struct {
	MountRoot string
	Resolver  RepoResolver
	Logger    *slog.Logger
}

// IsFileCached parses the path, resolves the repo identifier through the
// daemon, and asks whether the file is materialized locally. An invalid
// path reports not-cached with an error rather than aborting anything.
func (q *Querier) IsFileCached(ctx context.Context, path string) (bool, error) {
	parsed, err := Parse(q.MountRoot, path)
	if err != nil {
		if q.Logger != nil {
			q.Logger.Warn("invalid mounted path", "path", path, "error", err)
		}

		return false, err
	}

	repoID, err := q.Resolver.GetRepoIDByPath(ctx, parsed.DisplayPath())
	if err != nil {
		return false, err
	}

	return q.Resolver.IsFileCached(ctx, repoID, parsed.PathInRepo)
}
