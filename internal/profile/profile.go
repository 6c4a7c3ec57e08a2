// Package profile keeps the extended user profiles and their avatars.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"jobchat/internal/content"
	"jobchat/internal/errs"
	"jobchat/internal/filestore"
	"jobchat/internal/models"
	"jobchat/internal/storage"

	"github.com/h2non/filetype"
)

const (
	MaxAvatarSize     = 5 << 20
	MaxBioLength      = 4000
	MaxHeadlineLength = 120
	MaxSkills         = 50
	MaxExperience     = 30
	maxFieldLength    = 200
	sniffLength       = 261
)

var ErrNotImage = errs.NewInvalidArgumentError("avatar", "avatar must be a PNG, JPEG, GIF or WebP image")

var avatarTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

type Store interface {
	Get(path string, v any) error
	Set(path string, v any) error
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
}

// AvatarUpdater points the directory record of a user at a new avatar.
type AvatarUpdater interface {
	UpdateAvatar(ctx context.Context, userID, url string) (models.User, error)
}

type Service struct {
	store   Store
	files   filestore.FileStore
	users   AvatarUpdater
	baseURL string
	now     func() time.Time
}

func NewService(store Store, files filestore.FileStore, users AvatarUpdater, baseURL string) *Service {
	return &Service{
		store:   store,
		files:   files,
		users:   users,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Get returns the profile of userID. A user who never saved one gets an
// empty profile.
func (s *Service) Get(ctx context.Context, userID string) (models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return models.Profile{}, err
	}
	var p models.Profile
	err := s.store.Get(storage.ProfilePath(userID), &p)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return models.Profile{UserID: userID, Skills: []string{}, Experience: []models.Experience{}}, nil
	case err != nil:
		slog.Error("failed to load profile", "user_id", userID, "error", err)
		return models.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// Update replaces the editable fields of the profile of userID.
func (s *Service) Update(ctx context.Context, userID string, p models.Profile) (models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return models.Profile{}, err
	}

	p.UserID = userID
	var err error
	if p.Headline, err = clean("headline", p.Headline, MaxHeadlineLength); err != nil {
		return models.Profile{}, err
	}
	if p.Location, err = clean("location", p.Location, maxFieldLength); err != nil {
		return models.Profile{}, err
	}
	if p.Bio, err = clean("bio", p.Bio, MaxBioLength); err != nil {
		return models.Profile{}, err
	}

	skills, err := normalizeSkills(p.Skills)
	if err != nil {
		return models.Profile{}, err
	}
	p.Skills = skills

	if len(p.Experience) > MaxExperience {
		return models.Profile{}, errs.NewInvalidArgumentError("experience", fmt.Sprintf("at most %d experience entries", MaxExperience))
	}
	experience := make([]models.Experience, 0, len(p.Experience))
	for _, e := range p.Experience {
		for _, f := range []*string{&e.Title, &e.Company, &e.From, &e.To} {
			if *f, err = clean("experience", *f, maxFieldLength); err != nil {
				return models.Profile{}, err
			}
		}
		if e.Title == "" {
			return models.Profile{}, errs.NewInvalidArgumentError("experience", "experience title is required")
		}
		experience = append(experience, e)
	}
	p.Experience = experience

	p.BioHTML = ""
	if p.Bio != "" {
		html, err := content.RenderMarkdown(p.Bio)
		if err != nil {
			return models.Profile{}, errs.NewInvalidArgumentError("bio", "bio could not be rendered")
		}
		p.BioHTML = html
	}
	p.UpdatedAt = s.now().UnixMilli()

	if err := s.store.Set(storage.ProfilePath(userID), p); err != nil {
		slog.Error("failed to save profile", "user_id", userID, "error", err)
		return models.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

func clean(field, s string, max int) (string, error) {
	text, err := content.Text(s, max)
	if err != nil {
		return "", errs.NewInvalidArgumentError(field, fmt.Sprintf("%s: %v", field, err))
	}
	return text, nil
}

// normalizeSkills trims and deduplicates skills case-insensitively, keeping
// the first spelling.
func normalizeSkills(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, skill := range in {
		skill, err := clean("skills", skill, maxFieldLength)
		if err != nil {
			return nil, err
		}
		if skill == "" {
			continue
		}
		key := strings.ToLower(skill)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, skill)
	}
	if len(out) > MaxSkills {
		return nil, errs.NewInvalidArgumentError("skills", fmt.Sprintf("at most %d skills", MaxSkills))
	}
	return out, nil
}

// UploadAvatar stores an image as the avatar of userID and updates the
// directory record to point at it.
func (s *Service) UploadAvatar(ctx context.Context, userID string, r io.Reader) (models.User, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarSize+1))
	if err != nil {
		return models.User{}, fmt.Errorf("read avatar: %w", err)
	}
	if len(data) == 0 {
		return models.User{}, errs.NewInvalidArgumentError("avatar", "avatar is empty")
	}
	if len(data) > MaxAvatarSize {
		return models.User{}, errs.NewInvalidArgumentError("avatar", fmt.Sprintf("avatar cannot be larger than %d bytes", MaxAvatarSize))
	}

	head := data[:min(len(data), sniffLength)]
	kind, err := filetype.Match(head)
	if err != nil || !filetype.IsImage(head) || !avatarTypes[kind.MIME.Value] {
		return models.User{}, ErrNotImage
	}

	blob, err := s.files.Put(bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to store avatar", "user_id", userID, "error", err)
		return models.User{}, fmt.Errorf("store avatar: %w", err)
	}

	id, err := storage.NewKey()
	if err != nil {
		return models.User{}, err
	}
	meta := storage.FileMetadata{
		ID:        id,
		Hash:      blob.Hash,
		MimeType:  kind.MIME.Value,
		Size:      blob.Size,
		CreatedAt: s.now().UnixMilli(),
		UserID:    userID,
	}
	if err := s.store.UpsertFileMetadata(meta); err != nil {
		slog.Error("failed to store avatar metadata", "user_id", userID, "error", err)
		return models.User{}, fmt.Errorf("store avatar metadata: %w", err)
	}

	return s.users.UpdateAvatar(ctx, userID, s.baseURL+"/api/avatars/"+id)
}

// Avatar opens the avatar stored under id. The caller closes the reader.
func (s *Service) Avatar(ctx context.Context, id string) (io.ReadCloser, storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.FileMetadata{}, err
	}
	meta, err := s.store.GetFileMetadata(id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, storage.FileMetadata{}, errs.NewNotFoundError("avatar not found")
	}
	if err != nil {
		return nil, storage.FileMetadata{}, fmt.Errorf("load avatar metadata: %w", err)
	}
	rc, err := s.files.Open(meta.Hash)
	if err != nil {
		slog.Error("avatar blob missing", "file_id", id, "error", err)
		return nil, storage.FileMetadata{}, fmt.Errorf("open avatar: %w", err)
	}
	return rc, meta, nil
}
