package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dop251/goja"
	json "github.com/goccy/go-json"
	"golang.org/x/term"

	isolateruntime "github.com/wippyai/isolate-runtime"
	"github.com/wippyai/isolate-runtime/runtime"
)

const (
	evalTimeout = 10 * time.Second
	maxHistory  = 20
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// session owns one isolate on a dedicated goroutine and evaluates lines
// sent to it, draining the event loop after each.
type session struct {
	requests chan evalRequest
	done     chan struct{}
}

type evalRequest struct {
	reply  chan evalResult
	source string
}

type evalResult struct {
	err    error
	source string
	output string
	value  string
}

func startSession(ctx context.Context, rt *runtime.Runtime, shared isolateruntime.SharedRegion, preload string) (*session, error) {
	s := &session{
		requests: make(chan evalRequest),
		done:     make(chan struct{}),
	}
	ready := make(chan error, 1)
	go s.loop(ctx, rt, shared, preload, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) loop(ctx context.Context, rt *runtime.Runtime, shared isolateruntime.SharedRegion, preload string, ready chan<- error) {
	defer close(s.done)

	var out bytes.Buffer
	iso, err := rt.NewIsolate(ctx, runtime.IsolateConfig{
		Name:   "repl",
		Shared: shared,
		Stdout: &out,
		Stderr: &out,
	})
	if err != nil {
		ready <- err
		return
	}
	defer iso.Close()

	if preload != "" {
		if err := iso.ExecuteModule(ctx, preload); err != nil {
			ready <- err
			return
		}
	}
	ready <- nil

	n := 0
	for req := range s.requests {
		n++
		out.Reset()
		v, err := iso.ExecuteScript(fmt.Sprintf("repl:%d", n), req.source)
		if err == nil {
			runCtx, cancel := context.WithTimeout(ctx, evalTimeout)
			err = iso.Run(runCtx)
			cancel()
		}
		req.reply <- evalResult{
			source: req.source,
			output: out.String(),
			value:  render(v),
			err:    err,
		}
	}
}

func (s *session) eval(source string) evalResult {
	reply := make(chan evalResult, 1)
	s.requests <- evalRequest{source: source, reply: reply}
	return <-reply
}

func (s *session) close() {
	close(s.requests)
	<-s.done
}

func render(v goja.Value) string {
	if v == nil {
		return ""
	}
	if goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if b, err := json.Marshal(obj.Export()); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

type replModel struct {
	session *session
	title   string
	history []evalResult
	input   textinput.Model
	busy    bool
}

type evalDoneMsg evalResult

func newReplModel(s *session, title string) *replModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "expression"
	ti.Width = 60
	ti.Focus()
	return &replModel{session: s, title: title, input: ti}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "enter":
			source := strings.TrimSpace(m.input.Value())
			if source == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			return m, func() tea.Msg { return evalDoneMsg(m.session.eval(source)) }
		}

	case evalDoneMsg:
		m.busy = false
		m.history = append(m.history, evalResult(msg))
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Isolate Console"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	for _, r := range m.history {
		b.WriteString(sourceStyle.Render("> " + r.source))
		b.WriteString("\n")
		if r.output != "" {
			b.WriteString(outputStyle.Render(strings.TrimRight(r.output, "\n")))
			b.WriteString("\n")
		}
		if r.err != nil {
			b.WriteString(errorStyle.Render(r.err.Error()))
		} else {
			b.WriteString(resultStyle.Render(r.value))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.busy {
		b.WriteString(helpStyle.Render("running..."))
	} else {
		b.WriteString(helpStyle.Render("enter evaluate • ctrl+c quit"))
	}
	return b.String()
}

// runLines evaluates one line at a time from in. It is used when stdin is
// not a terminal.
func runLines(s *session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		source := strings.TrimSpace(scanner.Text())
		if source == "" {
			continue
		}
		r := s.eval(source)
		fmt.Fprint(out, r.output)
		if r.err != nil {
			fmt.Fprintf(out, "error: %v\n", r.err)
			continue
		}
		fmt.Fprintln(out, r.value)
	}
	return scanner.Err()
}

func runInteractive(ctx context.Context, rt *runtime.Runtime, shared isolateruntime.SharedRegion, preload string) error {
	s, err := startSession(ctx, rt, shared, preload)
	if err != nil {
		return err
	}
	defer s.close()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return runLines(s, os.Stdin, os.Stdout)
	}
	title := preload
	if title == "" {
		title = rt.BaseURL()
	}
	_, err = tea.NewProgram(newReplModel(s, title), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
