package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/channels"
	"github.com/haasonsaas/teller/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "chat", "migrate", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("TELLER_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigName {
		t.Errorf("resolveConfigPath(\"\") = %q", got)
	}

	t.Setenv("TELLER_CONFIG", "/etc/teller/prod.yaml")
	if got := resolveConfigPath(defaultConfigName); got != "/etc/teller/prod.yaml" {
		t.Errorf("env not applied: %q", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("explicit path overridden: %q", got)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teller.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigValidateCommand(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: sk-test
session:
  backend: memory
`)

	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "validate", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config validate: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "is valid") || !strings.Contains(out.String(), "session backend: memory") {
		t.Errorf("output = %q", out.String())
	}

	bad := writeConfig(t, "engine:\n  max_steps: -1\n  unknown_field: true\n")
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "validate", "--config", bad})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config schema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "teller dev") {
		t.Errorf("output = %q", out.String())
	}
}

type chatEngine struct {
	pending *models.Interrupt
	runs    []string
	resumes []string
	resets  int
}

func (e *chatEngine) RunTurn(_ context.Context, _ string, text string) (*agent.TurnResult, error) {
	e.runs = append(e.runs, text)
	if strings.Contains(text, "deposit") {
		e.pending = &models.Interrupt{
			ID:   "int-1",
			Call: models.ToolCall{Name: "open_deposit", Input: json.RawMessage(`{"amount":1000}`)},
		}
		return &agent.TurnResult{Status: agent.StatusAwaitingApproval, Interrupt: e.pending}, nil
	}
	answer := "echo: " + text
	return &agent.TurnResult{Status: agent.StatusDone, Answer: &answer}, nil
}

func (e *chatEngine) ResumeTurn(_ context.Context, _ string, decision models.Decision, reason string) (*agent.TurnResult, error) {
	if e.pending == nil {
		return nil, agent.ErrNothingToResume
	}
	e.pending = nil
	e.resumes = append(e.resumes, string(decision)+":"+reason)
	answer := "decided " + string(decision)
	return &agent.TurnResult{Status: agent.StatusDone, Answer: &answer}, nil
}

func (e *chatEngine) Reset(context.Context, string) error {
	e.resets++
	e.pending = nil
	return nil
}

func (e *chatEngine) PendingInterrupt(context.Context, string) (*models.Interrupt, error) {
	return e.pending, nil
}

func TestChatSession(t *testing.T) {
	engine := &chatEngine{}
	var out bytes.Buffer
	session := &chatSession{engine: engine, conversationID: "cli:test", out: &out}

	input := strings.Join([]string{
		"hello",
		"/approve",
		"open a deposit",
		"/reject too small",
		"open a deposit",
		"make it bigger",
		"/reset",
		"/quit",
		"never read",
	}, "\n")
	if err := session.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"echo: hello",
		channels.NothingPendingMessage,
		"Please confirm the operation: Open a deposit",
		approvalHint,
		"decided reject",
		channels.ResetMessage,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	wantResumes := []string{"reject:too small", "reject:make it bigger"}
	if strings.Join(engine.resumes, "|") != strings.Join(wantResumes, "|") {
		t.Errorf("resumes = %q, want %q", engine.resumes, wantResumes)
	}
	if len(engine.runs) != 3 || engine.resets != 1 {
		t.Errorf("runs = %q, resets = %d", engine.runs, engine.resets)
	}
	if strings.Contains(text, "never read") {
		t.Error("input after /quit was processed")
	}
}
