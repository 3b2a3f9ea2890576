package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/demonid/chatline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMessage(t *testing.T) {
	ts := time.Date(2026, 10, 18, 14, 5, 0, 0, time.Local)
	cases := []struct {
		name string
		msg  model.Message
		want string
	}{
		{"broadcast", model.Message{AuthorName: "bob", Text: "hi all"}, "14:05 bob: hi all"},
		{"own broadcast", model.Message{AuthorName: "alice", Text: "hello"}, "14:05 alice: hello"},
		{"private echo", model.Message{AuthorName: "alice", TargetName: "bob", Text: "hi"}, "14:05 to bob: hi"},
		{"private incoming", model.Message{AuthorName: "bob", TargetName: "alice", Text: "secret"}, "14:05 bob to alice: secret"},
		{"escape codes", model.Message{AuthorName: "bob", Text: "\x1b[31mred\x1b[0m"}, "14:05 bob: red"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.msg.Timestamp = ts
			assert.Equal(t, tc.want, ansi.Strip(formatMessage(tc.msg, "alice")))
		})
	}
}

func newTestModel(t *testing.T, defaults loginDefaults) modelState {
	t.Helper()
	ctrl := NewController(newRecordingView(), testLogger())
	m := initialModel(context.Background(), ctrl, defaults)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(modelState)
}

func update(t *testing.T, m modelState, msg tea.Msg) (modelState, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	next, ok := updated.(modelState)
	require.True(t, ok)
	return next, cmd
}

func TestInitialFocus(t *testing.T) {
	m := newTestModel(t, loginDefaults{Host: "localhost", Port: "8999"})
	assert.Equal(t, fieldName, m.focus)

	m = newTestModel(t, loginDefaults{})
	assert.Equal(t, fieldIP, m.focus)
}

func TestFormNavigation(t *testing.T) {
	m := newTestModel(t, loginDefaults{Host: "localhost", Port: "8999"})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, fieldPassword, m.focus)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, fieldIP, m.focus)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, fieldPassword, m.focus)
}

func TestSubmitInvalidForm(t *testing.T) {
	m := newTestModel(t, loginDefaults{Host: "localhost", Port: "99999", Name: "alice"})
	m.setFocus(fieldPassword)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Contains(t, m.statusErr, "invalid port")
	assert.Equal(t, model.Disconnected, m.status)
	assert.Contains(t, ansi.Strip(m.View()), "invalid port")
}

func TestSubmitStartsConnecting(t *testing.T) {
	m := newTestModel(t, loginDefaults{Host: "localhost", Port: "8999", Name: "alice"})
	m.setFocus(fieldPassword)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.NotNil(t, cmd)
	assert.Equal(t, model.Connecting, m.status)

	// Keys are ignored while connecting.
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestHistory(t *testing.T) {
	m := newTestModel(t, loginDefaults{})

	m, _ = update(t, m, errorMsg("connecting to x: refused"))
	require.Len(t, m.history, 1)

	// A new connection starts with a clean history pane.
	m, _ = update(t, m, statusMsg(model.Connected))
	assert.Empty(t, m.history)
	assert.Contains(t, ansi.Strip(m.View()), "CONNECTED as")

	m, _ = update(t, m, incomingMsg(model.Message{AuthorName: "bob", Text: "hi", Timestamp: time.Now()}))
	m, _ = update(t, m, noticeMsg("[Admin] welcome"))
	require.Len(t, m.history, 2)
	assert.Contains(t, ansi.Strip(m.viewport.View()), "bob: hi")
	assert.Contains(t, ansi.Strip(m.viewport.View()), "[Admin] welcome")

	m, _ = update(t, m, statusMsg(model.Disconnected))
	assert.Len(t, m.history, 2, "history stays visible after disconnect")
}

func TestChatInput(t *testing.T) {
	m := newTestModel(t, loginDefaults{})
	m, _ = update(t, m, statusMsg(model.Connected))

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd, "empty input sends nothing")

	m.textInput.SetValue("hello")
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, m.textInput.Value())

	// Not actually connected, so the controller refuses.
	result, ok := cmd().(sendResultMsg)
	require.True(t, ok)
	assert.ErrorIs(t, result.err, model.ErrNotConnected)

	m, _ = update(t, m, result)
	require.Len(t, m.history, 1)
	assert.Contains(t, ansi.Strip(m.history[0]), "not connected")
}

func TestQuitKeys(t *testing.T) {
	m := newTestModel(t, loginDefaults{})

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	assert.Nil(t, cmd, "nothing to disconnect")
}
