package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"jobchat/internal/errs"
	"jobchat/internal/models"
	"jobchat/internal/storage"
)

type Store interface {
	Update(fn func(tx *storage.Tx) error) error
	View(fn func(tx *storage.Tx) error) error
}

// SavedJobs keeps the jobs users bookmarked. A job is saved once per user,
// keyed by its listing id.
type SavedJobs struct {
	store Store
	now   func() time.Time
}

func NewSavedJobs(store Store) *SavedJobs {
	return &SavedJobs{store: store, now: time.Now}
}

func (s *SavedJobs) Save(ctx context.Context, userID string, job models.Job) (models.SavedJob, error) {
	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" || strings.Contains(job.ID, "/") {
		return models.SavedJob{}, errs.NewInvalidArgumentError("id", "job id is invalid")
	}
	if strings.TrimSpace(job.Title) == "" {
		return models.SavedJob{}, errs.NewInvalidArgumentError("title", "job title is required")
	}
	if err := ctx.Err(); err != nil {
		return models.SavedJob{}, err
	}

	saved := models.SavedJob{
		ID:      job.ID,
		UserID:  userID,
		Job:     job,
		SavedAt: s.now().UnixMilli(),
	}
	err := s.store.Update(func(tx *storage.Tx) error {
		path := storage.SavedJobPath(userID, job.ID)
		var existing models.SavedJob
		if err := tx.Get(path, &existing); err == nil {
			saved = existing
			return nil
		}
		return tx.Set(path, saved)
	})
	if err != nil {
		slog.Error("failed to save job", "user_id", userID, "job_id", job.ID, "error", err)
		return models.SavedJob{}, fmt.Errorf("save job: %w", err)
	}
	return saved, nil
}

func (s *SavedJobs) Remove(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.store.Update(func(tx *storage.Tx) error {
		path := storage.SavedJobPath(userID, id)
		if !tx.Exists(path) {
			return errs.NewNotFoundError("saved job not found")
		}
		return tx.Delete(path)
	})
	if err != nil && errs.KindOf(err) != errs.KindNotFound {
		slog.Error("failed to remove saved job", "user_id", userID, "job_id", id, "error", err)
		return fmt.Errorf("remove saved job: %w", err)
	}
	return err
}

// List returns userID's saved jobs, most recently saved first.
func (s *SavedJobs) List(ctx context.Context, userID string) ([]models.SavedJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var children []storage.Child[models.SavedJob]
	err := s.store.View(func(tx *storage.Tx) error {
		var err error
		children, err = storage.ListChildren[models.SavedJob](tx, storage.SavedJobsPath(userID))
		return err
	})
	if err != nil {
		slog.Error("failed to list saved jobs", "user_id", userID, "error", err)
		return nil, fmt.Errorf("list saved jobs: %w", err)
	}

	out := make([]models.SavedJob, 0, len(children))
	for _, c := range children {
		out = append(out, c.Value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SavedAt > out[j].SavedAt
	})
	return out, nil
}
