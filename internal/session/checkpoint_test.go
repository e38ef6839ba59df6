package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vampirenirmal/quire/internal/storage"
	"github.com/vampirenirmal/quire/pkg/quire/story"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

func TestCheckpointManager(t *testing.T) {
	ctx := context.Background()
	cm := NewCheckpointManager(storage.NewFileSystem(t.TempDir()))

	first := story.Checkpoint{
		SessionID: "s1",
		Turn:      1,
		Chapter:   "hall",
		Globals:   value.Scope{"gold": value.Number(3)},
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	second := story.Checkpoint{
		SessionID: "s2",
		Turn:      4,
		Globals:   value.Scope{},
		Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	if err := cm.For("inn").SaveCheckpoint(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := cm.Save(ctx, "cellar", second); err != nil {
		t.Fatal(err)
	}

	got, err := cm.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Story != "inn" {
		t.Errorf("Story = %q", got.Story)
	}
	if diff := cmp.Diff(first, got.Checkpoint); diff != "" {
		t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
	}

	resumed, err := cm.MarkAsResumed(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if resumed.ResumeCount != 1 || resumed.LastResumeTime == nil {
		t.Errorf("resumed record = %+v", resumed)
	}

	first.Turn = 2
	if err := cm.Save(ctx, "inn", first); err != nil {
		t.Fatal(err)
	}
	got, err = cm.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ResumeCount != 1 || got.Checkpoint.Turn != 2 {
		t.Errorf("record after save = %+v, want resume count kept", got)
	}

	records, err := cm.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Checkpoint.SessionID != "s2" {
		t.Errorf("List() = %+v, want s2 first", records)
	}

	if err := cm.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := cm.Load(ctx, "s1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load() error = %v, want ErrNoCheckpoint", err)
	}
}

func TestResumeFromSavedCheckpoint(t *testing.T) {
	ctx := context.Background()
	cm := NewCheckpointManager(storage.NewFileSystem(t.TempDir()))

	s, err := story.Load("# A\n\n{{#nav \"B\"}}On{{/nav}}\n\n# B\n\nGold {{gold}}\n")
	if err != nil {
		t.Fatal(err)
	}

	stop := errors.New("closed the book")
	var turns int
	p := story.PromptFunc(func(_ context.Context, turn story.Turn) (story.Response, error) {
		turns++
		if turn.Chapter.ID == "A" {
			return story.Answer{Target: turn.Navs[0].Target, Updates: value.Scope{"gold": value.Number(7)}}, nil
		}
		return nil, stop
	})

	_, err = s.Play(ctx, p, story.WithSessionID("game"), story.WithCheckpointer(cm.For("demo")))
	if !errors.Is(err, stop) {
		t.Fatalf("Play() error = %v, want %v", err, stop)
	}

	record, err := cm.MarkAsResumed(ctx, "game")
	if err != nil {
		t.Fatal(err)
	}
	if record.Checkpoint.Chapter != "B" {
		t.Fatalf("checkpoint chapter = %q, want B", record.Checkpoint.Chapter)
	}

	var text string
	resume := story.PromptFunc(func(_ context.Context, turn story.Turn) (story.Response, error) {
		text = turn.Text
		return story.Answer{}, nil
	})
	if _, err := s.Play(ctx, resume, story.ResumeFrom(record.Checkpoint)); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if text != "# B\n\nGold 7\n" {
		t.Errorf("resumed text = %q", text)
	}
}
