package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/demonid/chatline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommands(t *testing.T, ts *testServer, config *Config, lines ...string) (string, bool) {
	t.Helper()
	var out bytes.Buffer
	stopped := runConsole(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, ts.Server, config)
	return out.String(), stopped
}

func TestConsoleList(t *testing.T) {
	config := testConfig(t)
	ts := startServer(t, config, nil)

	out, stopped := runCommands(t, ts, config, "list")
	assert.False(t, stopped)
	assert.Contains(t, out, "Nobody is online.")

	login(t, ts, "bob")
	login(t, ts, "alice")
	out, _ = runCommands(t, ts, config, "list", "stats", "", "help", "dance")
	assert.Contains(t, out, "Online (2): alice, bob")
	assert.Contains(t, out, "connections=2,users=alice;bob")
	assert.Contains(t, out, consoleHelp)
	assert.Contains(t, out, "Unknown command.")
}

func TestConsoleKickAndBan(t *testing.T) {
	config := testConfig(t)
	ts := startServer(t, config, nil)
	alice := login(t, ts, "alice")

	out, _ := runCommands(t, ts, config, "kick", "kick nobody", "ban alice")
	assert.Contains(t, out, "Usage: kick <name>")
	assert.Contains(t, out, "User not found.")
	assert.Contains(t, out, "User banned.")

	assert.Equal(t, model.CodeKicked, alice.nextError().Code)
	alice.expectClosed()
	waitOffline(t, ts, "alice")
	assert.True(t, config.IsBanned("alice"))

	c := dial(t, ts.url)
	c.sendEvent(model.EventLogin, model.LoginPayload{Name: "alice"})
	assert.Equal(t, model.CodeBanned, c.nextError().Code)

	out, _ = runCommands(t, ts, config, "unban alice")
	assert.Contains(t, out, "User unbanned.")
	login(t, ts, "alice")
}

func TestConsoleBroadcast(t *testing.T) {
	config := testConfig(t)
	ts := startServer(t, config, nil)
	alice := login(t, ts, "alice")

	out, _ := runCommands(t, ts, config, "broadcast back in five")
	assert.Contains(t, out, "Broadcast sent to 1 users.")

	ev := alice.next()
	require.Equal(t, model.EventNotice, ev.Type)
	var notice model.NoticePayload
	require.NoError(t, ev.Decode(&notice))
	assert.Equal(t, "[Admin] back in five", notice.Text)
}

func TestConsoleStop(t *testing.T) {
	config := testConfig(t)
	ts := startServer(t, config, nil)

	out, stopped := runCommands(t, ts, config, "stop", "list")
	assert.True(t, stopped)
	assert.Contains(t, out, "Stopping server...")
	assert.NotContains(t, out, "Nobody is online.")
}
