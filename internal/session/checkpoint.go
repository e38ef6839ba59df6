// Package session saves and restores playback checkpoints.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vampirenirmal/quire/internal/storage"
	"github.com/vampirenirmal/quire/pkg/quire/story"
)

// ErrNoCheckpoint is returned when a session has no saved checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Record is a checkpoint as stored on disk, tagged with the story it
// belongs to.
type Record struct {
	Story          string           `json:"story"`
	Checkpoint     story.Checkpoint `json:"checkpoint"`
	ResumeCount    int              `json:"resume_count"`
	LastResumeTime *time.Time       `json:"last_resume_time,omitempty"`
}

// CheckpointManager keeps one checkpoint file per session.
type CheckpointManager struct {
	storage storage.Storage
}

func NewCheckpointManager(storage storage.Storage) *CheckpointManager {
	return &CheckpointManager{
		storage: storage,
	}
}

func filename(sessionID string) string {
	return fmt.Sprintf("checkpoints/%s.json", sessionID)
}

// For returns a checkpointer that tags saved checkpoints with storyName.
func (cm *CheckpointManager) For(storyName string) story.Checkpointer {
	return story.CheckpointFunc(func(ctx context.Context, cp story.Checkpoint) error {
		return cm.Save(ctx, storyName, cp)
	})
}

// Save stores cp, keeping the resume bookkeeping of an earlier record.
func (cm *CheckpointManager) Save(ctx context.Context, storyName string, cp story.Checkpoint) error {
	record := Record{Story: storyName, Checkpoint: cp}
	if prev, err := cm.Load(ctx, cp.SessionID); err == nil {
		record.ResumeCount = prev.ResumeCount
		record.LastResumeTime = prev.LastResumeTime
	}
	return cm.write(ctx, &record)
}

func (cm *CheckpointManager) write(ctx context.Context, record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	return cm.storage.Save(ctx, filename(record.Checkpoint.SessionID), data)
}

func (cm *CheckpointManager) Load(ctx context.Context, sessionID string) (*Record, error) {
	data, err := cm.storage.Load(ctx, filename(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}

	return &record, nil
}

// MarkAsResumed records that a session was resumed and returns its record.
func (cm *CheckpointManager) MarkAsResumed(ctx context.Context, sessionID string) (*Record, error) {
	record, err := cm.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record.ResumeCount++
	record.LastResumeTime = &now
	if err := cm.write(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns every readable checkpoint, most recent first. Unreadable
// files are skipped.
func (cm *CheckpointManager) List(ctx context.Context) ([]*Record, error) {
	files, err := cm.storage.List(ctx, "checkpoints/*.json")
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var records []*Record
	for _, file := range files {
		data, err := cm.storage.Load(ctx, file)
		if err != nil {
			continue
		}

		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}

		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Checkpoint.Timestamp.After(records[j].Checkpoint.Timestamp)
	})
	return records, nil
}

func (cm *CheckpointManager) Delete(ctx context.Context, sessionID string) error {
	return cm.storage.Delete(ctx, filename(sessionID))
}
