package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/demonid/chatline/model"
)

// Messages posted to the program by programView and commands.
type (
	statusMsg        model.ConnectStatus
	incomingMsg      model.Message
	noticeMsg        string
	errorMsg         string
	connectResultMsg struct{ err error }
	sendResultMsg    struct{ err error }
)

// programView forwards Controller callbacks into the bubbletea loop.
type programView struct {
	program *tea.Program
}

func (v *programView) ShowMessage(msg model.Message) {
	v.program.Send(incomingMsg(msg))
}

func (v *programView) ShowNotice(text string) {
	v.program.Send(noticeMsg(text))
}

func (v *programView) ShowError(text string) {
	v.program.Send(errorMsg(text))
}

func (v *programView) SetConnectStatus(s model.ConnectStatus) {
	v.program.Send(statusMsg(s))
}

var (
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#505050"))
	authorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5F87FF")).Bold(true)
	privateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#D75FD7"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	focusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5F87FF"))
)

const (
	fieldIP = iota
	fieldPort
	fieldName
	fieldPassword
	fieldCount
)

var fieldLabels = [fieldCount]string{"Server", "Port", "Name", "Password"}

type loginDefaults struct {
	Host string
	Port string
	Name string
}

type modelState struct {
	ctrl *Controller
	ctx  context.Context

	form      [fieldCount]textinput.Model
	focus     int
	textInput textinput.Model
	viewport  viewport.Model
	history   []string
	status    model.ConnectStatus
	self      string
	statusErr string
	width     int
	height    int
	ready     bool
}

func initialModel(ctx context.Context, ctrl *Controller, defaults loginDefaults) modelState {
	var form [fieldCount]textinput.Model
	for i := range form {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 64
		form[i] = ti
	}
	form[fieldIP].SetValue(defaults.Host)
	form[fieldPort].SetValue(defaults.Port)
	form[fieldPort].CharLimit = 5
	form[fieldName].SetValue(defaults.Name)
	form[fieldName].CharLimit = model.MaxNameLength
	form[fieldPassword].EchoMode = textinput.EchoPassword
	form[fieldPassword].EchoCharacter = '•'

	ti := textinput.New()
	ti.Placeholder = "Type a message, @name to whisper, /quit to leave"
	ti.CharLimit = model.MaxTextLength
	ti.Width = 20

	m := modelState{
		ctrl:      ctrl,
		ctx:       ctx,
		form:      form,
		textInput: ti,
	}
	m.focus = fieldIP
	for i := fieldIP; i < fieldCount; i++ {
		if form[i].Value() == "" {
			m.focus = i
			break
		}
	}
	m.form[m.focus].Focus()
	return m
}

func (m modelState) Init() tea.Cmd {
	return textinput.Blink
}

func (m modelState) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.status == model.Disconnected {
				return m, tea.Quit
			}
			return m, tea.Sequence(m.disconnect(), tea.Quit)
		case tea.KeyCtrlD:
			if m.status == model.Connected {
				return m, m.disconnect()
			}
			return m, nil
		}
		if m.status == model.Connected {
			return m.updateChat(msg)
		}
		return m.updateForm(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, 1)
			// Letters go to the input; only paging keys scroll.
			m.viewport.KeyMap = viewport.KeyMap{
				PageDown: key.NewBinding(key.WithKeys("pgdown")),
				PageUp:   key.NewBinding(key.WithKeys("pgup")),
			}
			m.ready = true
		}
		m.textInput.Width = msg.Width - 3
		m.layout()
		return m, nil

	case statusMsg:
		m.status = model.ConnectStatus(msg)
		switch m.status {
		case model.Connected:
			m.history = nil
			m.statusErr = ""
			m.self = m.ctrl.Account().Name
			m.form[m.focus].Blur()
			m.textInput.Focus()
		case model.Disconnected:
			m.textInput.Blur()
			m.form[m.focus].Focus()
		}
		m.layout()
		return m, nil

	case connectResultMsg:
		if msg.err != nil {
			m.statusErr = msg.err.Error()
			m.appendLine(errorStyle.Render(sanitize(msg.err.Error())))
		}
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render(sanitize(msg.err.Error())))
		}
		return m, nil

	case incomingMsg:
		m.appendLine(formatMessage(model.Message(msg), m.self))
		return m, nil

	case noticeMsg:
		m.appendLine(noticeStyle.Render(sanitize(string(msg))))
		return m, nil

	case errorMsg:
		m.appendLine(errorStyle.Render(sanitize(string(msg))))
		return m, nil
	}

	var cmd tea.Cmd
	if m.status == model.Connected {
		m.textInput, cmd = m.textInput.Update(msg)
	} else {
		m.form[m.focus], cmd = m.form[m.focus].Update(msg)
	}
	return m, cmd
}

func (m modelState) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		content := m.textInput.Value()
		if content == "" {
			return m, nil
		}
		m.textInput.SetValue("")
		if strings.TrimSpace(content) == "/quit" {
			return m, m.disconnect()
		}
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return sendResultMsg{err: ctrl.Send(content)}
		}
	}

	var tiCmd, vpCmd tea.Cmd
	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m modelState) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.status == model.Connecting {
		return m, nil
	}
	switch msg.Type {
	case tea.KeyTab, tea.KeyDown:
		m.setFocus((m.focus + 1) % fieldCount)
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.setFocus((m.focus + fieldCount - 1) % fieldCount)
		return m, nil
	case tea.KeyEnter:
		if m.focus < fieldPassword && m.form[m.focus+1].Value() == "" {
			m.setFocus(m.focus + 1)
			return m, nil
		}
		return m.submit()
	}

	var cmd tea.Cmd
	m.form[m.focus], cmd = m.form[m.focus].Update(msg)
	return m, cmd
}

func (m *modelState) setFocus(i int) {
	m.form[m.focus].Blur()
	m.focus = i
	m.form[m.focus].Focus()
}

// submit validates the form and starts connecting.
func (m modelState) submit() (tea.Model, tea.Cmd) {
	account := model.Account{
		IP:       strings.TrimSpace(m.form[fieldIP].Value()),
		Port:     strings.TrimSpace(m.form[fieldPort].Value()),
		Name:     m.form[fieldName].Value(),
		Password: m.form[fieldPassword].Value(),
	}
	if err := account.Validate(); err != nil {
		m.statusErr = err.Error()
		return m, nil
	}
	m.statusErr = ""
	m.status = model.Connecting

	ctx, ctrl := m.ctx, m.ctrl
	return m, func() tea.Msg {
		return connectResultMsg{err: ctrl.Connect(ctx, account)}
	}
}

func (m modelState) disconnect() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Disconnect()
		return nil
	}
}

func (m *modelState) appendLine(line string) {
	m.history = append(m.history, line)
	m.refresh()
}

func (m *modelState) refresh() {
	if !m.ready {
		return
	}
	content := strings.Join(m.history, "\n")
	if m.viewport.Width > 0 {
		content = lipgloss.NewStyle().Width(m.viewport.Width).Render(content)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

// layout sizes the history pane to what the footer leaves free.
func (m *modelState) layout() {
	if !m.ready {
		return
	}
	footer := 1
	if m.status != model.Connected {
		footer = fieldCount
	}
	height := m.height - footer - 2
	if height < 1 {
		height = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = height
	m.refresh()
}

func (m modelState) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		m.viewport.View(),
		borderStyle.Render(strings.Repeat("─", m.viewport.Width)),
		m.footerView(),
		m.statusView(),
	)
}

func (m modelState) footerView() string {
	if m.status == model.Connected {
		return m.textInput.View()
	}
	lines := make([]string, fieldCount)
	for i, field := range m.form {
		marker := "  "
		if i == m.focus {
			marker = focusStyle.Render("> ")
		}
		lines[i] = fmt.Sprintf("%s%-9s %s", marker, fieldLabels[i]+":", field.View())
	}
	return strings.Join(lines, "\n")
}

func (m modelState) statusView() string {
	line := m.status.String()
	switch m.status {
	case model.Connected:
		line += " as " + m.self + " · ctrl+d disconnect · ctrl+c quit"
	case model.Disconnected:
		line += " · enter to connect · ctrl+c quit"
	}
	if m.statusErr != "" {
		return noticeStyle.Render(line+" · ") + errorStyle.Render(sanitize(m.statusErr))
	}
	return noticeStyle.Render(line)
}

// formatMessage renders one history line. Private messages sent by self
// are local echoes and read "to bob: ...".
func formatMessage(msg model.Message, self string) string {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := borderStyle.Render(ts.Local().Format("15:04")) + " "
	author := sanitize(msg.AuthorName)
	text := sanitize(msg.Text)

	switch {
	case msg.IsPrivate() && msg.AuthorName == self:
		return prefix + privateStyle.Render("to "+sanitize(msg.TargetName)+": "+text)
	case msg.IsPrivate():
		return prefix + privateStyle.Render(author+" to "+sanitize(msg.TargetName)+": "+text)
	default:
		return prefix + authorStyle.Render(author) + ": " + text
	}
}

// sanitize drops escape sequences from remote text so peers cannot
// restyle the terminal.
func sanitize(s string) string {
	return ansi.Strip(s)
}
