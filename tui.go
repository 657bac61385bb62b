package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parole/recorder"
)

// TUI message types
type RecordingStartMsg struct{}
type RecordingStopMsg struct{}
type RecordingTickMsg struct{ Elapsed time.Duration }
type AudioLevelMsg struct{ Level float64 }
type NoVoiceWarningMsg struct{}
type VoiceClearedMsg struct{}
type LiveTextMsg struct{ Text string }
type TranscriptionMsg struct {
	Input   string
	Summary recorder.Summary
}
type ErrorMsg struct{ Text string }
type stopRequestMsg struct{}
type startedMsg struct{ err error }
type stoppedMsg struct{}

type tuiState int

const (
	tuiStateIdle tuiState = iota
	tuiStateStarting
	tuiStateRecording
	tuiStateStopping
)

type tuiModel struct {
	drv   *driver
	input *recorder.TextInput

	state      tuiState
	elapsed    time.Duration
	audioLevel float64
	peakLevel  float64
	noVoice    bool
	live       string
	text       string
	status     string
	copied     bool
	quitting   bool

	modeLine   string
	deviceLine string
	width      int
}

// tuiSink forwards driver events to the running program. Events sent before
// the program exists are dropped.
type tuiSink struct {
	mu sync.Mutex
	p  *tea.Program
}

func (s *tuiSink) attach(p *tea.Program) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func (s *tuiSink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *tuiSink) RecordingStart()                     { s.send(RecordingStartMsg{}) }
func (s *tuiSink) RecordingStop()                      { s.send(RecordingStopMsg{}) }
func (s *tuiSink) RecordingTick(elapsed time.Duration) { s.send(RecordingTickMsg{Elapsed: elapsed}) }
func (s *tuiSink) AudioLevel(level float64)            { s.send(AudioLevelMsg{Level: level}) }
func (s *tuiSink) NoVoiceWarning()                     { s.send(NoVoiceWarningMsg{}) }
func (s *tuiSink) VoiceCleared()                       { s.send(VoiceClearedMsg{}) }
func (s *tuiSink) LiveText(text string)                { s.send(LiveTextMsg{Text: text}) }
func (s *tuiSink) Error(msg string)                    { s.send(ErrorMsg{Text: msg}) }

func (s *tuiSink) Transcription(input string, sum recorder.Summary) {
	s.send(TranscriptionMsg{Input: input, Summary: sum})
}

func newTUIModel(drv *driver, input *recorder.TextInput, modeLine, deviceLine string) tuiModel {
	return tuiModel{
		drv:        drv,
		input:      input,
		modeLine:   modeLine,
		deviceLine: deviceLine,
		text:       input.String(),
	}
}

// runTUI blocks until the user quits or ctx is cancelled. Stop requests from
// the driver end the current session as if the user had pressed space.
func runTUI(ctx context.Context, drv *driver, sink *tuiSink, input *recorder.TextInput, modeLine, deviceLine string) error {
	p := tea.NewProgram(newTUIModel(drv, input, modeLine, deviceLine), tea.WithAltScreen(), tea.WithContext(ctx))
	sink.attach(p)
	defer sink.attach(nil)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-drv.StopRequests():
				p.Send(stopRequestMsg{})
			}
		}
	}()

	_, err := p.Run()
	if drv.Active() {
		// killed mid-session; keep what was said
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		drv.Stop(stopCtx)
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m tuiModel) startCmd() tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: m.drv.Start()}
	}
}

func (m tuiModel) stopCmd() tea.Cmd {
	return func() tea.Msg {
		m.drv.Stop(context.Background())
		return stoppedMsg{}
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		return m.handleKey(msg)

	case startedMsg:
		if msg.err != nil {
			m.state = tuiStateIdle
			return m, nil
		}
		m.state = tuiStateRecording

	case stopRequestMsg:
		if m.state == tuiStateRecording {
			m.state = tuiStateStopping
			return m, m.stopCmd()
		}

	case stoppedMsg:
		m.state = tuiStateIdle
		m.audioLevel = 0
		m.live = ""
		if m.quitting {
			return m, tea.Quit
		}

	case RecordingStartMsg:
		m.elapsed = 0
		m.audioLevel = 0
		m.peakLevel = 0
		m.noVoice = false
		m.live = ""
		m.status = ""
		m.copied = false

	case RecordingTickMsg:
		m.elapsed = msg.Elapsed

	case AudioLevelMsg:
		if m.state == tuiStateRecording {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
			m.peakLevel = max(m.peakLevel, msg.Level)
		}

	case NoVoiceWarningMsg:
		m.noVoice = true

	case VoiceClearedMsg:
		m.noVoice = false

	case LiveTextMsg:
		m.live = msg.Text

	case TranscriptionMsg:
		m.text = msg.Input
		if msg.Summary.Dropped > 0 {
			m.status = fmt.Sprintf("%d segment(s) skipped while uploads were busy", msg.Summary.Dropped)
		}

	case ErrorMsg:
		m.status = msg.Text
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.state == tuiStateRecording {
			m.quitting = true
			m.state = tuiStateStopping
			return m, m.stopCmd()
		}
		if m.state == tuiStateStarting || m.state == tuiStateStopping {
			m.quitting = true
			return m, nil
		}
		return m, tea.Quit

	case " ":
		switch m.state {
		case tuiStateIdle:
			m.state = tuiStateStarting
			return m, m.startCmd()
		case tuiStateRecording:
			m.state = tuiStateStopping
			return m, m.stopCmd()
		}

	case "c":
		text := m.input.String()
		if text == "" {
			return m, nil
		}
		if err := clipboard.WriteAll(text); err != nil {
			m.status = "copy failed: " + err.Error()
			return m, nil
		}
		m.copied = true

	case "x":
		if m.state == tuiStateIdle {
			m.input.Clear()
			m.text = ""
			m.copied = false
		}
	}
	return m, nil
}

var (
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	copiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

func (m tuiModel) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	wrapWidth := max(width-6, 10)

	var b strings.Builder

	switch m.state {
	case tuiStateRecording:
		b.WriteString(recStyle.Render(fmt.Sprintf("● REC %.1fs", m.elapsed.Seconds())))
		b.WriteString("  " + renderLevelBar(m.audioLevel, 20))
		if m.noVoice {
			b.WriteString(warnStyle.Render("  ⚠ no voice detected"))
		}
	case tuiStateStarting:
		b.WriteString(idleStyle.Render("○ starting..."))
	case tuiStateStopping:
		b.WriteString(idleStyle.Render("◌ transcribing..."))
	default:
		b.WriteString(idleStyle.Render("○ STANDBY"))
	}
	b.WriteString("\n")

	if m.modeLine != "" {
		b.WriteString(dimStyle.Render(m.modeLine) + "\n")
	}
	if m.deviceLine != "" {
		b.WriteString(idleStyle.Render(m.deviceLine) + "\n")
	}
	if m.status != "" {
		b.WriteString(warnStyle.Render(m.status) + "\n")
	}

	var field strings.Builder
	if m.text == "" && m.live == "" {
		field.WriteString(idleStyle.Render("Press space to dictate"))
	}
	if m.text != "" {
		lines := wrapText(m.text, wrapWidth)
		for i, line := range lines {
			field.WriteString(textStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				field.WriteString(" " + copiedStyle.Render("[✓ copied]"))
			}
			if i < len(lines)-1 {
				field.WriteString("\n")
			}
		}
	}
	if m.live != "" {
		if m.text != "" {
			field.WriteString("\n")
		}
		field.WriteString(liveStyle.Render(strings.Join(wrapText(m.live, wrapWidth), "\n")))
	}
	b.WriteString(boxStyle.Width(width - 2).Render(field.String()))
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("space record/stop · c copy · x clear · q quit · parole " + version))
	return b.String()
}

// renderLevelBar draws level (RMS in [0, 1]) as a meter of the given width.
// Speech rarely exceeds 0.3 RMS, so the scale saturates there.
func renderLevelBar(level float64, width int) string {
	filled := int(level / 0.3 * float64(width))
	filled = max(0, min(filled, width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return dimStyle.Render(bar)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
