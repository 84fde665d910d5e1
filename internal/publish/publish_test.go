package publish

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

var polygon = chain.Chain{Name: "polygon", Prefix: "poly"}

type call struct {
	dir  string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string
	errs    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{dir: dir, args: append([]string{name}, args...)})
	return []byte(f.outputs[args[0]]), f.errs[args[0]]
}

func TestGitPublish(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	dir := t.TempDir()
	g, err := NewGit(GitConfig{Dir: dir, Remote: "origin", Branch: "main"}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, g.Publish(context.Background(), polygon))
	require.Len(t, runner.calls, 3)
	assert.Equal(t, []string{"git", "add", "-A"}, runner.calls[0].args)
	assert.Equal(t, []string{"git", "commit", "-m", "Added mixtape for polygon"}, runner.calls[1].args)
	assert.Equal(t, []string{"git", "push", "origin", "main"}, runner.calls[2].args)
	assert.Equal(t, dir, runner.calls[2].dir)
}

func TestGitPublishWritesIgnoreFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.tmp\n*.db-wal"), 0o644))

	g, err := NewGit(GitConfig{Dir: dir, Ignore: []string{"/images/"}}, &fakeRunner{}, nil)
	require.NoError(t, err)
	require.NoError(t, g.Publish(context.Background(), polygon))
	require.NoError(t, g.Publish(context.Background(), polygon))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "*.tmp\n*.db-wal\n*.db-shm\n*.db-journal\n/images/\n", string(got))
}

func TestGitPublishIgnoreFileFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	g, err := NewGit(GitConfig{Dir: filepath.Join(t.TempDir(), "missing")}, runner, nil)
	require.NoError(t, err)

	err = g.Publish(context.Background(), polygon)
	require.Error(t, err)
	assert.ErrorIs(t, err, nft.ErrPublish)
	assert.Empty(t, runner.calls, "nothing is staged without the ignore file")
}

func TestGitPublishNothingToCommit(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		outputs: map[string]string{"commit": "On branch main\nnothing to commit, working tree clean\n"},
		errs:    map[string]error{"commit": errors.New("exit status 1")},
	}
	g, err := NewGit(GitConfig{Dir: t.TempDir()}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, g.Publish(context.Background(), polygon))
	assert.Len(t, runner.calls, 2, "push must be skipped")
}

func TestGitPublishPushFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		outputs: map[string]string{"push": "fatal: could not read from remote repository"},
		errs:    map[string]error{"push": errors.New("exit status 128")},
	}
	g, err := NewGit(GitConfig{Dir: t.TempDir()}, runner, nil)
	require.NoError(t, err)

	err = g.Publish(context.Background(), polygon)
	require.Error(t, err)
	assert.ErrorIs(t, err, nft.ErrPublish)
	assert.Contains(t, err.Error(), "could not read from remote")
	assert.Equal(t, []string{"git", "push"}, runner.calls[2].args)
}

func TestNewGitValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGit(GitConfig{}, nil, nil)
	assert.Error(t, err)
	_, err = NewGit(GitConfig{Dir: "/data", Branch: "main"}, nil, nil)
	assert.Error(t, err)
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := NewMemory()
	bad := NewMemory()
	bad.Err = errors.New("boom")
	also := NewMemory()

	err := Multi{ok, bad, also}.Publish(context.Background(), polygon)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"polygon"}, ok.Chains())
	assert.Equal(t, []string{"polygon"}, also.Chains(), "later publishers still run")

	assert.NoError(t, Multi{ok, Noop{}}.Publish(context.Background(), polygon))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestPubSubPublish(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "mixtapes")
	require.NoError(t, err)
	defer topic.Stop()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewPubSub(topic, "data", fixedClock{t: now})
	require.NoError(t, err)

	runCtx := progress.WithRunID(ctx, [16]byte{0xab})
	require.NoError(t, p.Publish(runCtx, polygon))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "polygon", msgs[0].Attributes["chain"])

	var n Notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &n))
	assert.Equal(t, "polygon", n.Chain)
	assert.Equal(t, "poly", n.Prefix)
	assert.True(t, strings.HasSuffix(n.Directory, "poly-directory"))
	assert.True(t, strings.HasPrefix(n.RunID, "ab000000-"))
	assert.True(t, now.Equal(n.PublishedAt))
}

func TestNewPubSubValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPubSub(nil, "data", fixedClock{})
	assert.Error(t, err)
}
