package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/channels"
	"github.com/haasonsaas/teller/internal/gateway"
	"github.com/haasonsaas/teller/pkg/models"
)

const chatHelp = `Commands:
  /approve         confirm the pending operation
  /reject [reason] cancel the pending operation
  /reset           clear the conversation
  /help            show this message
  /quit            exit`

const approvalHint = "Reply /approve or /reject [reason]."

func runChat(cmd *cobra.Command, configPath, conversationID string, showSources bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logCfg := cfg.Logging
	if logCfg.Level == "" || logCfg.Level == "info" || logCfg.Level == "debug" {
		logCfg.Level = "warn"
	}
	logger := newLogger(logCfg, false)

	ctx := cmd.Context()
	rt, err := gateway.NewRuntime(ctx, cfg, gateway.RuntimeOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer rt.Close()

	if conversationID == "" {
		conversationID = "cli:" + uuid.NewString()
	}
	session := &chatSession{
		engine:         rt.Engine,
		conversationID: conversationID,
		out:            cmd.OutOrStdout(),
		showSources:    showSources,
		interactive:    term.IsTerminal(int(os.Stdin.Fd())),
		logger:         logger,
	}
	return session.run(ctx, cmd.InOrStdin())
}

// chatSession is a line-oriented front end over one conversation.
type chatSession struct {
	engine         channels.TurnEngine
	conversationID string
	out            io.Writer
	showSources    bool
	maxSources     int
	interactive    bool
	logger         *slog.Logger
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.interactive {
		fmt.Fprintf(s.out, "Conversation %s. Type /help for commands.\n", s.conversationID)
	}
	if pending, err := s.engine.PendingInterrupt(ctx, s.conversationID); err == nil && pending != nil {
		fmt.Fprintln(s.out, channels.DescribeInterrupt(pending))
		fmt.Fprintln(s.out, approvalHint)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if s.interactive {
			fmt.Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		if quit := s.handleLine(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// handleLine processes one input line and reports whether to exit.
func (s *chatSession) handleLine(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}

	command, arg := text, ""
	if strings.HasPrefix(text, "/") {
		if idx := strings.IndexAny(text, " \t"); idx >= 0 {
			command, arg = text[:idx], strings.TrimSpace(text[idx+1:])
		}
		switch strings.ToLower(command) {
		case "/quit", "/exit":
			return true
		case "/help":
			fmt.Fprintln(s.out, chatHelp)
			return false
		case "/reset":
			if err := s.engine.Reset(ctx, s.conversationID); err != nil {
				s.fail(err)
				return false
			}
			fmt.Fprintln(s.out, channels.ResetMessage)
			return false
		case "/approve":
			s.deliver(s.engine.ResumeTurn(ctx, s.conversationID, models.DecisionApprove, ""))
			return false
		case "/reject":
			s.deliver(s.engine.ResumeTurn(ctx, s.conversationID, models.DecisionReject, arg))
			return false
		}
	}

	pending, err := s.engine.PendingInterrupt(ctx, s.conversationID)
	if err != nil {
		s.fail(err)
		return false
	}
	if pending != nil {
		s.deliver(s.engine.ResumeTurn(ctx, s.conversationID, models.DecisionReject, text))
		return false
	}
	s.deliver(s.engine.RunTurn(ctx, s.conversationID, text))
	return false
}

func (s *chatSession) deliver(result *agent.TurnResult, err error) {
	if err != nil {
		s.fail(err)
		return
	}
	switch result.Status {
	case agent.StatusAwaitingApproval:
		fmt.Fprintln(s.out, channels.DescribeInterrupt(result.Interrupt))
		fmt.Fprintln(s.out, approvalHint)
	case agent.StatusFailed:
		fmt.Fprintln(s.out, channels.FormatAnswer(result, false, 0))
	default:
		fmt.Fprintln(s.out, channels.FormatAnswer(result, s.showSources, s.maxSources))
	}
}

func (s *chatSession) fail(err error) {
	s.logger.Error("turn failed", "conversation_id", s.conversationID, "error", err)
	fmt.Fprintln(s.out, channels.UserFacingError(err))
}
