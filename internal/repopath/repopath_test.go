package repopath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    RepoPath
		wantErr error
	}{
		{
			name: "file in subdirectory",
			path: "/mnt/seadrive/My Libraries/Documents/sub/file.txt",
			want: RepoPath{Category: "My Libraries", Repo: "Documents", PathInRepo: "/sub/file.txt"},
		},
		{
			name: "repo root",
			path: "/mnt/seadrive/My Libraries/Documents",
			want: RepoPath{Category: "My Libraries", Repo: "Documents"},
		},
		{
			name: "repo root with trailing slash",
			path: "/mnt/seadrive/My Libraries/Documents/",
			want: RepoPath{Category: "My Libraries", Repo: "Documents"},
		},
		{
			name:    "bare category",
			path:    "/mnt/seadrive/My Libraries",
			wantErr: ErrInvalid,
		},
		{
			name:    "mount root itself",
			path:    "/mnt/seadrive/",
			wantErr: ErrInvalid,
		},
		{
			name:    "outside the mount",
			path:    "/home/alice/file.txt",
			wantErr: ErrNotInMount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse("/mnt/seadrive", tt.path)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCategory(t *testing.T) {
	category, err := ParseCategory("/mnt/seadrive", "/mnt/seadrive/Shared with me")
	require.NoError(t, err)
	assert.Equal(t, "Shared with me", category)

	category, err = ParseCategory("/mnt/seadrive", "/mnt/seadrive/My Libraries/Documents/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "My Libraries", category)

	_, err = ParseCategory("/mnt/seadrive", "/elsewhere/x")
	assert.ErrorIs(t, err, ErrNotInMount)
}

func TestDisplayPath(t *testing.T) {
	r := RepoPath{Category: "My Libraries", Repo: "Documents", PathInRepo: "/a/b"}
	assert.Equal(t, "My Libraries/Documents", r.DisplayPath())
}

// fakeResolver answers daemon lookups from fixed maps.
type fakeResolver struct {
	repoIDs map[string]string
	cached  map[string]bool
}

func (r *fakeResolver) GetRepoIDByPath(_ context.Context, repoPath string) (string, error) {
	return r.repoIDs[repoPath], nil
}

func (r *fakeResolver) IsFileCached(_ context.Context, repoID, pathInRepo string) (bool, error) {
	return r.cached[repoID+pathInRepo], nil
}

func TestQuerierIsFileCached(t *testing.T) {
	resolver := &fakeResolver{
		repoIDs: map[string]string{"My Libraries/Documents": "repo-1"},
		cached:  map[string]bool{"repo-1/sub/file.txt": true},
	}
	q := &Querier{MountRoot: "/mnt/seadrive", Resolver: resolver}

	cached, err := q.IsFileCached(context.Background(), "/mnt/seadrive/My Libraries/Documents/sub/file.txt")
	require.NoError(t, err)
	assert.True(t, cached)

	cached, err = q.IsFileCached(context.Background(), "/mnt/seadrive/My Libraries/Documents/other.txt")
	require.NoError(t, err)
	assert.False(t, cached)

	_, err = q.IsFileCached(context.Background(), "/mnt/seadrive/My Libraries")
	assert.ErrorIs(t, err, ErrInvalid)
}
