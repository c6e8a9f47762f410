// Package sessions persists conversation checkpoints: the running message
// history of each conversation and its paused approval interrupt, if any.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/teller/pkg/models"
)

var (
	// ErrNotFound is returned when a conversation or interrupt does not exist.
	ErrNotFound = errors.New("session: not found")

	// ErrInterruptPending is returned when an interrupt is already
	// outstanding for the conversation.
	ErrInterruptPending = errors.New("session: interrupt already pending")

	// ErrInterruptMismatch is returned when resolving an interrupt that is
	// no longer the outstanding one.
	ErrInterruptMismatch = errors.New("session: interrupt does not match")
)

// Store is the checkpoint store. Conversations are keyed by their stable ID.
//
// History is append-only. At most one interrupt exists per conversation:
// SetInterrupt refuses to overwrite, and ResolveInterrupt appends the
// decision's messages and clears the interrupt in one atomic step.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Turn-level single-writer
// access per conversation is provided by a Locker, not by the Store.
type Store interface {
	// Load returns the conversation history, or ErrNotFound.
	Load(ctx context.Context, conversationID string) (*models.Conversation, error)

	// Append adds messages to the end of the history, creating the
	// conversation if needed.
	Append(ctx context.Context, conversationID string, msgs ...models.Message) error

	// GetInterrupt returns the outstanding interrupt, or ErrNotFound.
	GetInterrupt(ctx context.Context, conversationID string) (*models.Interrupt, error)

	// SetInterrupt records a new interrupt, or fails with ErrInterruptPending.
	SetInterrupt(ctx context.Context, interrupt *models.Interrupt) error

	// ClearInterrupt removes the interrupt if present.
	ClearInterrupt(ctx context.Context, conversationID string) error

	// ResolveInterrupt atomically appends msgs and clears the interrupt
	// identified by interruptID. It fails with ErrNotFound when no interrupt
	// is outstanding and ErrInterruptMismatch when a different one is.
	ResolveInterrupt(ctx context.Context, conversationID, interruptID string, msgs ...models.Message) error

	// Reset deletes the history and any interrupt.
	Reset(ctx context.Context, conversationID string) error

	// Prune deletes conversations not updated within olderThan and returns
	// how many were removed. Conversations with an outstanding interrupt
	// are kept.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close releases backend resources.
	Close() error
}
