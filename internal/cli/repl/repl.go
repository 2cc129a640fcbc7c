package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/cli/command"
	httpclient "github.com/ExxiDauS/CyberCTF/internal/cli/http"
	"github.com/ExxiDauS/CyberCTF/internal/cli/state"
	pkgerrors "github.com/ExxiDauS/CyberCTF/pkg/errors"

	"github.com/chzyer/readline"
)

const prompt = "cyberctf> "

// LineReader is the part of *readline.Instance the session drives.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	session    *state.Session
	statePath  string
	prettyJSON bool
	lines      LineReader
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, session *state.Session, statePath string, prettyJSON bool, lines LineReader, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		session:    session,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		lines:      lines,
		out:        out,
	}
}

// NewReadline opens a terminal line editor with history and command completion.
func NewReadline(historyPath string, commands map[string]command.Command) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	actions := map[string][]readline.PrefixCompleterInterface{}
	var services []string
	for _, key := range command.Keys(commands) {
		cmd := commands[key]
		if _, ok := actions[cmd.Service]; !ok {
			services = append(services, cmd.Service)
		}
		actions[cmd.Service] = append(actions[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("operator")),
		readline.PcItem("show", readline.PcItem("last"), readline.PcItem("config")),
	}
	for _, service := range services {
		items = append(items, readline.PcItem(service, actions[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until exit, EOF or ctx ends.
func (s *Session) Run(ctx context.Context) {
	for ctx.Err() == nil {
		s.lines.SetPrompt(prompt)
		line, err := s.lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.printLine("usage: set base|timeout|operator <value>")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "operator":
		s.client.SetOperator(parts[1])
		s.printLine("operator set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "last":
		last := s.session.LastSandbox
		if last == nil {
			s.printLine("last sandbox: <none>")
			return
		}
		s.printLine("last sandbox: %s port=%d ssh_user=%s flag_digest=%s", last.Name, last.Port, last.SSHUser, last.FlagDigest)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show last|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	key, params, err := command.ParseLine(line)
	if err != nil {
		return err
	}
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}

	params.Canonicalize(cmd.Fields)
	s.applyParamShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.updateStateFromResponse(cmd, resp.Body)
	return nil
}

func (s *Session) applyParamShortcuts(cmd command.Command, params command.Params) {
	if cmd.Key() == "sandbox verify" && params.Get("flag_digest") == "" && s.session.LastSandbox != nil {
		params.Set("flag_digest", s.session.LastSandbox.FlagDigest)
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		s.lines.SetPrompt(field.Prompt + ": ")
		value, err := s.lines.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) updateStateFromResponse(cmd command.Command, body []byte) {
	type provisionData struct {
		Name       string `json:"name"`
		Port       int    `json:"port"`
		SSHUser    string `json:"ssh_user"`
		FlagDigest string `json:"flag_digest"`
	}
	type respEnvelope struct {
		Code int           `json:"code"`
		Data provisionData `json:"data"`
	}
	if cmd.Service != "sandbox" {
		return
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) {
		return
	}
	switch cmd.Action {
	case "provision":
		s.session.LastSandbox = &state.SandboxRecord{
			Name:          resp.Data.Name,
			Port:          resp.Data.Port,
			SSHUser:       resp.Data.SSHUser,
			FlagDigest:    resp.Data.FlagDigest,
			ProvisionedAt: time.Now(),
		}
		_ = state.Save(s.statePath, *s.session)
	case "teardown":
		if s.session.LastSandbox != nil && s.session.LastSandbox.Name == resp.Data.Name {
			s.session.LastSandbox = nil
			_ = state.Clear(s.statePath)
		}
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|operator | show last|config")
	s.printLine("commands: %s", strings.Join(command.Keys(s.commands), ", "))
	s.printLine("examples:")
	s.printLine("  image upload problem_name=algo101 problem_id=7 file=./algo101.tar.zst")
	s.printLine("  image build problem_name=algo101 problem_id=7")
	s.printLine("  sandbox provision problem_name=algo101 problem_id=7 user_id=42")
	s.printLine("  sandbox verify flag=\"aB3dE5fG7h\"")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
