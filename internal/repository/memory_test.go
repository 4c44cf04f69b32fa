package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/domain"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_PairIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	story := &domain.Story{Title: "t", SourceType: domain.SourceTypePaste, Status: domain.StoryStatusDraft}
	require.NoError(t, s.CreateStory(ctx, story))

	s.PairHook = func(text, image *domain.Page) error { return errors.New("disk full") }
	err := s.CreatePagePair(ctx, domain.NewTextPage(story.ID, 0, "x"), domain.NewImagePage(story.ID, 1, "x"))
	require.Error(t, err)

	pages, err := s.ListPages(ctx, story.ID, domain.PageFilter{})
	require.NoError(t, err)
	assert.Empty(t, pages, "no TEXT page without its IMAGE page")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	story := &domain.Story{Title: "t", SourceType: domain.SourceTypePaste, Status: domain.StoryStatusDraft, Settings: domain.DefaultSettings()}
	require.NoError(t, s.CreateStory(ctx, story))
	img := domain.NewImagePage(story.ID, 1, "x")
	require.NoError(t, s.CreatePagePair(ctx, domain.NewTextPage(story.ID, 0, "x"), img))

	got, err := s.GetPage(ctx, img.ID)
	require.NoError(t, err)
	got.GenStatus = domain.GenStatusRunning
	got.ImageMeta["k"] = "v"

	again, err := s.GetPage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GenStatusPending, again.GenStatus)
	assert.NotContains(t, again.ImageMeta, "k")

	st, err := s.GetStory(ctx, story.ID)
	require.NoError(t, err)
	st.Settings["font_size"] = 99
	st2, err := s.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, st2.Settings["font_size"])
}
