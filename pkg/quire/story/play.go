package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/vampirenirmal/quire/pkg/quire/errors"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Checkpoint is the playback state after a completed turn. Chapter is the
// id of the chapter to play next, empty once the story has ended.
type Checkpoint struct {
	SessionID string      `json:"session_id"`
	Turn      int         `json:"turn"`
	Chapter   string      `json:"chapter"`
	Globals   value.Scope `json:"globals"`
	Timestamp time.Time   `json:"timestamp"`
}

// Checkpointer receives a checkpoint after every turn.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, cp Checkpoint) error

func (f CheckpointFunc) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	return f(ctx, cp)
}

type playConfig struct {
	sessionID    string
	checkpointer Checkpointer
	resume       *Checkpoint
}

// PlayOption configures a single playback.
type PlayOption func(*playConfig)

// WithSessionID names the playback in logs and checkpoints. A random id is
// used by default.
func WithSessionID(id string) PlayOption {
	return func(c *playConfig) {
		c.sessionID = id
	}
}

// WithCheckpointer saves a checkpoint after every turn. Save failures are
// logged and do not stop playback.
func WithCheckpointer(cp Checkpointer) PlayOption {
	return func(c *playConfig) {
		c.checkpointer = cp
	}
}

// ResumeFrom continues a playback from a checkpoint instead of the entry
// chapter. The story-level start hook is not run again.
func ResumeFrom(cp Checkpoint) PlayOption {
	return func(c *playConfig) {
		c.resume = &cp
		if cp.SessionID != "" {
			c.sessionID = cp.SessionID
		}
	}
}

// Play runs the story until a turn resolves to no target. It returns the
// final globals. On failure it returns the globals as merged so far
// alongside the error; nothing is rolled back.
func (s *Story) Play(ctx context.Context, p Prompter, opts ...PlayOption) (value.Scope, error) {
	cfg := playConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sessionID == "" {
		cfg.sessionID = uuid.NewString()
	}
	logger := s.logger.With("session", cfg.sessionID)

	globals := s.Globals()
	chapter := s.Entry()
	turn := 0

	if cfg.resume != nil {
		globals = cfg.resume.Globals.Clone()
		turn = cfg.resume.Turn
		chapter = nil
		if id := cfg.resume.Chapter; id != "" {
			c, ok := s.Chapter(id)
			if !ok {
				return globals, &qerrors.ChapterNotFoundError{Target: id}
			}
			chapter = c
		}
		logger.Info("Resuming story", "chapter", cfg.resume.Chapter, "turn", turn)
	} else {
		started, err := s.hooks.OnStart(ctx, globals.Clone())
		if err != nil {
			return globals, fmt.Errorf("start hook: %w", err)
		}
		if started != nil {
			globals = globals.Merge(started)
		}
		logger.Info("Starting story", "title", s.Metadata.Title)
	}

	for chapter != nil {
		if err := ctx.Err(); err != nil {
			return globals, err
		}

		target, updates, err := s.playChapter(ctx, p, chapter, globals, logger)
		if err != nil {
			return globals, err
		}

		globals = globals.Merge(updates)
		turn++

		var next *Chapter
		if target != nil {
			c, ok := s.Chapter(*target)
			if !ok {
				return globals, &qerrors.ChapterNotFoundError{Target: *target}
			}
			next = c
		}

		s.checkpoint(ctx, cfg, logger, Checkpoint{
			SessionID: cfg.sessionID,
			Turn:      turn,
			Chapter:   chapterID(next),
			Globals:   globals.Clone(),
			Timestamp: time.Now(),
		})

		chapter = next
	}

	logger.Info("Story ended", "turns", turn)
	return globals, nil
}

// playChapter runs one turn up to, but not including, the merge into
// globals: enter, render, prompt, leave and navigate, in that order.
func (s *Story) playChapter(ctx context.Context, p Prompter, chapter *Chapter, globals value.Scope, logger *slog.Logger) (*string, value.Scope, error) {
	logger = logger.With("chapter", chapter.ID)
	logger.Debug("Entering chapter")

	scope := globals.Merge(s.Metadata.Assets.URLs())
	entered, err := chapter.Hooks.OnEnter(ctx, globals.Clone())
	if err != nil {
		return nil, nil, fmt.Errorf("enter hook of chapter %q: %w", chapter.ID, err)
	}
	if entered != nil {
		scope = scope.Merge(entered)
	}

	result, err := chapter.Render(s.engine, scope, s.Metadata.Assets, s.formatter)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.Prompt(ctx, Turn{Chapter: chapter, Result: result})
	if err != nil {
		return nil, nil, fmt.Errorf("prompting chapter %q: %w", chapter.ID, err)
	}
	if resp == nil {
		return nil, nil, errors.New("prompter returned no response")
	}

	target, updates, err := resp.resolve(result)
	if err != nil {
		return nil, nil, err
	}

	left, err := chapter.Hooks.OnLeave(ctx, updates.Clone(), globals.Clone())
	if err != nil {
		return nil, nil, fmt.Errorf("leave hook of chapter %q: %w", chapter.ID, err)
	}
	if left != nil {
		updates = updates.Merge(left)
	}

	next, changed, err := chapter.Hooks.OnNavigate(ctx, target, updates.Clone(), globals.Clone())
	if err != nil {
		return nil, nil, fmt.Errorf("navigate hook of chapter %q: %w", chapter.ID, err)
	}
	if changed {
		target = next
	}

	logger.Debug("Leaving chapter", "target", targetAttr(target), "updates", len(updates))
	return target, updates, nil
}

func (s *Story) checkpoint(ctx context.Context, cfg playConfig, logger *slog.Logger, cp Checkpoint) {
	if cfg.checkpointer == nil {
		return
	}
	if err := cfg.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		logger.Error("Failed to save checkpoint", "turn", cp.Turn, "error", err)
	}
}

func chapterID(c *Chapter) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func targetAttr(target *string) slog.Value {
	if target == nil {
		return slog.StringValue("<end>")
	}
	return slog.StringValue(*target)
}
