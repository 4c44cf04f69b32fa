package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/domain"
)

// runStoreContract проверяет поведение, общее для всех реализаций Store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	newStory := func(t *testing.T, s Store, status domain.StoryStatus) *domain.Story {
		t.Helper()
		story := &domain.Story{
			Title:      "The Fox",
			SourceType: domain.SourceTypePaste,
			SourceText: "a quick brown fox",
			Settings:   domain.DefaultSettings(),
			Status:     status,
		}
		require.NoError(t, s.CreateStory(ctx, story))
		return story
	}
	addPair := func(t *testing.T, s Store, storyID uuid.UUID, i int) (*domain.Page, *domain.Page) {
		t.Helper()
		text := domain.NewTextPage(storyID, 2*i, "chunk")
		image := domain.NewImagePage(storyID, 2*i+1, "chunk")
		require.NoError(t, s.CreatePagePair(ctx, text, image))
		return text, image
	}

	t.Run("story round trip", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusDraft)
		got, err := s.GetStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, "The Fox", got.Title)
		assert.Equal(t, domain.StoryStatusDraft, got.Status)
		assert.Equal(t, "A4", got.SettingString(domain.SettingPageSize, ""))
		assert.False(t, got.CreatedAt.IsZero())

		_, err = s.GetStory(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.UpdateStoryStatus(ctx, uuid.New(), domain.StoryStatusReady), domain.ErrNotFound)

		list, err := s.ListStories(ctx, 10, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("page pairs are ordered and unique", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusDraft)
		addPair(t, s, story.ID, 1)
		addPair(t, s, story.ID, 0)

		err := s.CreatePagePair(ctx, domain.NewTextPage(story.ID, 2, "dup"), domain.NewImagePage(story.ID, 3, "dup"))
		assert.ErrorIs(t, err, domain.ErrDuplicatePageIndex)

		pages, err := s.ListPages(ctx, story.ID, domain.PageFilter{})
		require.NoError(t, err)
		require.Len(t, pages, 4)
		for i, p := range pages {
			assert.Equal(t, i, p.Index)
		}
		assert.Equal(t, domain.PageKindText, pages[0].Kind)
		assert.Equal(t, domain.PageKindImage, pages[1].Kind)
		assert.Equal(t, "chunk", pages[1].Prompt())
	})

	t.Run("invalid pair is rejected before insert", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusDraft)
		err := s.CreatePagePair(ctx, domain.NewTextPage(story.ID, 0, "x"), domain.NewImagePage(story.ID, 5, "x"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		pages, err := s.ListPages(ctx, story.ID, domain.PageFilter{})
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("filter by kind and status", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusDraft)
		_, img0 := addPair(t, s, story.ID, 0)
		addPair(t, s, story.ID, 1)

		img0.GenStatus = domain.GenStatusError
		img0.GenError = "boom"
		require.NoError(t, s.UpdatePageGeneration(ctx, img0))

		pending, err := s.ListPages(ctx, story.ID, domain.PageFilter{
			Kind:     domain.PageKindImage,
			Statuses: []domain.GenStatus{domain.GenStatusPending},
		})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, 3, pending[0].Index)

		retryable, err := s.ListPages(ctx, story.ID, domain.PageFilter{
			Kind:     domain.PageKindImage,
			Statuses: []domain.GenStatus{domain.GenStatusPending, domain.GenStatusError},
		})
		require.NoError(t, err)
		assert.Len(t, retryable, 2)
	})

	t.Run("page generation update validates invariants", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusDraft)
		_, img := addPair(t, s, story.ID, 0)

		img.GenStatus = domain.GenStatusReady
		assert.ErrorIs(t, s.UpdatePageGeneration(ctx, img), domain.ErrInvalidInput)

		img.ImageArtifact = "storybook/pages/x.png"
		img.ImageMeta = map[string]any{"provider": "fake"}
		require.NoError(t, s.UpdatePageGeneration(ctx, img))

		got, err := s.GetPage(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.GenStatusReady, got.GenStatus)
		assert.Equal(t, "storybook/pages/x.png", got.ImageArtifact)
		assert.Equal(t, "fake", got.ImageMeta["provider"])
	})

	t.Run("finalize and settle", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusDraft)
		_, img0 := addPair(t, s, story.ID, 0)
		_, img1 := addPair(t, s, story.ID, 1)

		status, err := s.SettleStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StoryStatusDraft, status, "draft stories are never settled")

		finalized, err := s.FinalizeStory(ctx, story.ID, domain.StoryStatusGenerating)
		require.NoError(t, err)
		assert.Equal(t, 4, finalized.PageCount)

		img0.GenStatus, img0.ImageArtifact = domain.GenStatusReady, "a.png"
		require.NoError(t, s.UpdatePageGeneration(ctx, img0))
		status, err = s.SettleStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StoryStatusGenerating, status)

		img1.GenStatus, img1.GenError = domain.GenStatusError, "provider down"
		require.NoError(t, s.UpdatePageGeneration(ctx, img1))
		status, err = s.SettleStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StoryStatusReady, status)

		got, err := s.GetStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StoryStatusReady, got.Status)
		assert.Equal(t, 4, got.PageCount)

		_, err = s.SettleStory(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("image jobs and exports", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusReady)
		_, img := addPair(t, s, story.ID, 0)

		for attempt := 2; attempt >= 1; attempt-- {
			job := &domain.ImageJob{PageID: img.ID, Attempt: attempt, Provider: "fake", Status: domain.ImageJobStatusQueued}
			require.NoError(t, s.CreateImageJob(ctx, job))
			job.Status = domain.ImageJobStatusFailed
			job.ResponsePayload = map[string]any{"error": "x"}
			require.NoError(t, s.UpdateImageJob(ctx, job))
		}
		jobs, err := s.ListImageJobs(ctx, img.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, 1, jobs[0].Attempt)
		assert.Equal(t, domain.ImageJobStatusFailed, jobs[1].Status)

		export := &domain.Export{StoryID: story.ID, PageSize: "A4", DPI: 300, Status: domain.ExportStatusPending}
		require.NoError(t, s.CreateExport(ctx, export))
		export.Status = domain.ExportStatusReady
		export.Artifact = "storybook/exports/x.pdf"
		require.NoError(t, s.UpdateExport(ctx, export))
		got, err := s.GetExport(ctx, export.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ExportStatusReady, got.Status)

		exports, err := s.ListExports(ctx, story.ID)
		require.NoError(t, err)
		assert.Len(t, exports, 1)
	})

	t.Run("delete cascades", func(t *testing.T) {
		s := newStore(t)
		story := newStory(t, s, domain.StoryStatusReady)
		_, img := addPair(t, s, story.ID, 0)
		img.GenStatus, img.ImageArtifact = domain.GenStatusReady, "storybook/pages/a.png"
		require.NoError(t, s.UpdatePageGeneration(ctx, img))
		require.NoError(t, s.CreateExport(ctx, &domain.Export{
			StoryID: story.ID, PageSize: "A4", DPI: 300, Status: domain.ExportStatusReady, Artifact: "storybook/exports/b.pdf",
		}))

		artifacts, err := s.DeleteStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"storybook/exports/b.pdf", "storybook/pages/a.png"}, artifacts)

		_, err = s.GetPage(ctx, img.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		_, err = s.DeleteStory(ctx, story.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
