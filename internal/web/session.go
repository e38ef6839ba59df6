package web

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vampirenirmal/quire/pkg/quire/story"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// ErrSessionEnded is returned when a reply is sent to a finished session.
var ErrSessionEnded = errors.New("session ended")

// playSession runs one playback in its own goroutine. The playback blocks in
// Prompt until an HTTP request supplies the reply.
type playSession struct {
	id         string
	story      string
	title      string
	stylesheet string
	created    time.Time

	turns   chan story.Turn
	replies chan story.Response
	done    chan struct{}
	cancel  context.CancelFunc

	// replying serializes replies so each is checked against the turn it answers.
	replying sync.Mutex

	mu      sync.Mutex
	current *story.Turn
	globals value.Scope
	err     error
}

func startSession(parent context.Context, id, name string, s *story.Story, opts ...story.PlayOption) *playSession {
	ctx, cancel := context.WithCancel(parent)
	ps := &playSession{
		id:         id,
		story:      name,
		title:      s.Metadata.Title,
		stylesheet: s.Stylesheet,
		created:    time.Now(),
		turns:      make(chan story.Turn),
		replies:    make(chan story.Response),
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	go func() {
		defer close(ps.done)
		globals, err := play(ctx, s, ps, opts)
		ps.mu.Lock()
		ps.globals = globals
		ps.err = err
		ps.current = nil
		ps.mu.Unlock()
	}()

	return ps
}

// play runs the playback, turning a panic into the session's error so one
// broken story cannot take the server down.
func play(ctx context.Context, s *story.Story, p story.Prompter, opts []story.PlayOption) (globals value.Scope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("playback panicked: %v", r)
		}
	}()
	return s.Play(ctx, p, opts...)
}

// Prompt implements story.Prompter by handing the turn to the next waiting
// request and blocking until a reply arrives.
func (ps *playSession) Prompt(ctx context.Context, turn story.Turn) (story.Response, error) {
	select {
	case ps.turns <- turn:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-ps.replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wait blocks until the playback offers its next turn or ends.
func (ps *playSession) wait(ctx context.Context) error {
	select {
	case turn := <-ps.turns:
		ps.mu.Lock()
		ps.current = &turn
		ps.mu.Unlock()
		return nil
	case <-ps.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll picks up a turn the playback offered while no request was waiting.
func (ps *playSession) poll() {
	select {
	case turn := <-ps.turns:
		ps.mu.Lock()
		ps.current = &turn
		ps.mu.Unlock()
	default:
	}
}

// reply validates form against the current turn, hands it to the playback
// and waits for the outcome. An invalid form leaves the turn in place. If the
// playback offers a newer turn while the reply is pending, the form is
// checked again against that turn.
func (ps *playSession) reply(ctx context.Context, form url.Values) error {
	ps.replying.Lock()
	defer ps.replying.Unlock()

	ps.poll()
	for {
		ps.mu.Lock()
		current := ps.current
		ps.mu.Unlock()
		if current == nil {
			return ErrSessionEnded
		}

		if _, _, err := story.DecodeForm(form, current.Result); err != nil {
			return err
		}

		select {
		case ps.replies <- story.Form(form):
			return ps.wait(ctx)
		case turn := <-ps.turns:
			ps.mu.Lock()
			ps.current = &turn
			ps.mu.Unlock()
		case <-ps.done:
			return ErrSessionEnded
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type sessionState struct {
	turn    *story.Turn
	ended   bool
	globals value.Scope
	err     error
}

func (ps *playSession) state() sessionState {
	ps.poll()
	ps.mu.Lock()
	defer ps.mu.Unlock()

	st := sessionState{turn: ps.current, globals: ps.globals, err: ps.err}
	select {
	case <-ps.done:
		st.ended = true
	default:
	}
	return st
}

// stop cancels the playback and waits for its goroutine to exit.
func (ps *playSession) stop() {
	ps.cancel()
	<-ps.done
}

func (ps *playSession) String() string {
	return fmt.Sprintf("%s/%s", ps.story, ps.id)
}
