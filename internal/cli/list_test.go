package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/lists"
)

func TestListCommands_ShareAndCollaborate(t *testing.T) {
	db := dbFlags(t)
	run := func(args ...string) (string, error) {
		return execute(t, append(args, db...)...)
	}

	out, err := run("list", "create", "Date night", "--description", "fancy", "--as", "alice", "--format", "json")
	require.NoError(t, err)
	var l domain.List
	decodeData(t, out, &l)
	require.NotEmpty(t, l.ID)
	assert.False(t, l.IsShareable)

	out, err = run("list", "share", l.ID, "--as", "alice", "--format", "json")
	require.NoError(t, err)
	decodeData(t, out, &l)
	require.True(t, l.IsShareable)
	require.NotEmpty(t, l.ShareLinkID)

	out, err = run("list", "join", l.ShareLinkID, "--as", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, `Joined "Date night" as editor`)

	out, err = run("list", "add", l.ID, "r1", "--name", "Thai Palace", "--as", "bob", "--format", "json")
	require.NoError(t, err)
	var added lists.AddItemResult
	decodeData(t, out, &added)
	assert.True(t, added.Created)
	require.NotNil(t, added.Item)

	out, err = run("list", "add", l.ID, "r1", "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "r1 is already on the list")

	out, err = run("list", "update", l.ID, "--title", "Anniversary", "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `is now "Anniversary"`)

	out, err = run("list", "show", l.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"Anniversary"`)
	assert.Contains(t, out, "fancy")
	assert.Contains(t, out, "bob editor")
	assert.Contains(t, out, "Thai Palace")

	out, err = run("list", "mine", "--as", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, l.ID+"  Anniversary (shared)")

	_, err = run("list", "unshare", l.ID, "--as", "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = run("list", "unshare", l.ID, "--as", "alice")
	require.NoError(t, err)

	_, err = run("list", "join", l.ShareLinkID, "--as", "carol", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = run("list", "remove", added.Item.ID, "--as", "bob")
	require.NoError(t, err)

	_, err = run("list", "delete", l.ID, "--as", "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	out, err = run("list", "delete", l.ID, "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted list")

	_, err = run("list", "show", l.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListCommands_RolesAndNotes(t *testing.T) {
	db := dbFlags(t)
	run := func(args ...string) (string, error) {
		return execute(t, append(args, db...)...)
	}

	out, err := run("list", "create", "Brunch", "--as", "alice", "--format", "json")
	require.NoError(t, err)
	var l domain.List
	decodeData(t, out, &l)

	out, err = run("list", "invite", l.ID, "pat", "--role", "viewer", "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "pat is viewer")

	_, err = run("list", "add", l.ID, "r1", "--as", "pat")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = run("list", "note", "add", "r1", l.ID, "great eggs", "--as", "pat")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	out, err = run("list", "role", l.ID, "pat", "editor", "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "pat is editor")

	out, err = run("list", "note", "add", "r1", l.ID, "great eggs", "--as", "pat", "--format", "json")
	require.NoError(t, err)
	var n domain.Note
	decodeData(t, out, &n)
	assert.Equal(t, "great eggs", n.Text)

	_, err = run("list", "note", "add", "r1", domain.NoteContextFavorites, "my pick", "--as", "alice")
	require.NoError(t, err)

	out, err = run("list", "note", "ls", "r1", l.ID, "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "pat: great eggs")

	out, err = run("list", "note", "ls", "r1", domain.NoteContextFavorites, "--as", "pat")
	require.NoError(t, err)
	assert.NotContains(t, out, "my pick")

	_, err = run("list", "note", "rm", n.ID, "--as", "alice")
	require.NoError(t, err)

	out, err = run("list", "kick", l.ID, "pat", "--as", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed pat")

	out, err = run("list", "mine", "--as", "pat")
	require.NoError(t, err)
	assert.Contains(t, out, "No lists.")
}
