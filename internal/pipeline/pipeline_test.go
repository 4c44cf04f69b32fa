package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/domain"
	"storybook-server/internal/generator"
	"storybook-server/internal/imagegen"
	"storybook-server/internal/messaging"
	"storybook-server/internal/mocks"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/repository"
	"storybook-server/internal/storage"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func newDraft(t *testing.T, store *repository.MemoryStore) *domain.Story {
	t.Helper()
	story := &domain.Story{
		Title:      "Words",
		SourceType: domain.SourceTypePaste,
		Settings:   domain.DefaultSettings(),
		Status:     domain.StoryStatusDraft,
	}
	require.NoError(t, store.CreateStory(context.Background(), story))
	return story
}

func syncPipeline(t *testing.T, store *repository.MemoryStore, client imagegen.Client) *pipeline.Pipeline {
	t.Helper()
	artifacts, err := storage.NewFileStore(t.TempDir(), "/media")
	require.NoError(t, err)
	gen := generator.New(store, client, artifacts, generator.Config{MaxRetries: 1}, nil)
	return pipeline.New(store, pipeline.NewSyncDispatcher(gen), pipeline.Config{WordsPerPage: 200}, nil)
}

func newClient(t *testing.T) *mocks.MockImageClient {
	client := mocks.NewMockImageClient(t)
	client.On("Name").Return("test").Maybe()
	return client
}

func assertPairs(t *testing.T, pages []*domain.Page, chunks int) {
	t.Helper()
	require.Len(t, pages, 2*chunks)
	for i, page := range pages {
		assert.Equal(t, i, page.Index)
		if i%2 == 0 {
			assert.Equal(t, domain.PageKindText, page.Kind)
			assert.Equal(t, domain.GenStatusReady, page.GenStatus)
		} else {
			assert.Equal(t, domain.PageKindImage, page.Kind)
			assert.Equal(t, pages[i-1].Text.Text, page.Image.Prompt)
			assert.Equal(t, pages[i-1].StoryID, page.StoryID)
		}
	}
}

func TestCreateStorybookFromText_650Words(t *testing.T) {
	store := repository.NewMemoryStore()
	client := newClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(&imagegen.Image{Data: []byte("png"), ContentType: "image/png"}, nil)
	story := newDraft(t, store)

	err := syncPipeline(t, store, client).CreateStorybookFromText(context.Background(), story, words(650))
	require.NoError(t, err)

	pages, err := store.ListPages(context.Background(), story.ID, domain.PageFilter{})
	require.NoError(t, err)
	assertPairs(t, pages, 4)
	for i, n := range []int{200, 200, 200, 50} {
		assert.Len(t, strings.Fields(pages[2*i].Text.Text), n)
		assert.Equal(t, domain.GenStatusReady, pages[2*i+1].GenStatus)
		assert.NotEmpty(t, pages[2*i+1].ImageArtifact)
	}
	client.AssertNumberOfCalls(t, "Generate", 4)

	stored, err := store.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryStatusReady, stored.Status)
	assert.Equal(t, 8, stored.PageCount)
	assert.Equal(t, domain.StoryStatusReady, story.Status)
	assert.Equal(t, 8, story.PageCount)
}

func TestCreateStorybookFromText_ProviderAlwaysFails(t *testing.T) {
	store := repository.NewMemoryStore()
	client := newClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &imagegen.ProviderError{Provider: "test", Status: 200, Detail: `{"error":"not an image"}`})
	story := newDraft(t, store)

	err := syncPipeline(t, store, client).CreateStorybookFromText(context.Background(), story, words(450))
	require.NoError(t, err)

	images, err := store.ListPages(context.Background(), story.ID, domain.PageFilter{Kind: domain.PageKindImage})
	require.NoError(t, err)
	require.Len(t, images, 3)
	for _, page := range images {
		assert.Equal(t, domain.GenStatusError, page.GenStatus)
		assert.Contains(t, page.GenError, "not an image")
	}
	client.AssertNumberOfCalls(t, "Generate", 6)

	stored, err := store.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryStatusReady, stored.Status)
	assert.Equal(t, 6, stored.PageCount)
}

func TestCreateStorybookFromText_PairFailureIsAtomic(t *testing.T) {
	store := repository.NewMemoryStore()
	store.PairHook = func(text, image *domain.Page) error {
		if text.Index == 4 {
			return errors.New("disk full")
		}
		return nil
	}
	client := newClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(&imagegen.Image{Data: []byte("png"), ContentType: "image/png"}, nil)
	story := newDraft(t, store)

	err := syncPipeline(t, store, client).CreateStorybookFromText(context.Background(), story, words(1000))
	require.ErrorIs(t, err, domain.ErrPipelineCreation)

	pages, err := store.ListPages(context.Background(), story.ID, domain.PageFilter{})
	require.NoError(t, err)
	assertPairs(t, pages, 2)

	stored, err := store.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryStatusError, stored.Status)
	assert.Equal(t, len(pages), stored.PageCount)
}

func TestCreateStorybookFromText_ConfigurationErrorStopsGeneration(t *testing.T) {
	store := repository.NewMemoryStore()
	client := newClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &imagegen.ConfigurationError{Provider: "test", Reason: "HF_API_TOKEN is not set"})
	story := newDraft(t, store)

	err := syncPipeline(t, store, client).CreateStorybookFromText(context.Background(), story, words(650))
	require.ErrorIs(t, err, domain.ErrGenerationAborted)
	client.AssertNumberOfCalls(t, "Generate", 1)

	pages, err := store.ListPages(context.Background(), story.ID, domain.PageFilter{})
	require.NoError(t, err)
	assertPairs(t, pages, 4)
	assert.Equal(t, domain.GenStatusError, pages[1].GenStatus)
	for _, i := range []int{3, 5, 7} {
		assert.Equal(t, domain.GenStatusPending, pages[i].GenStatus)
	}

	stored, err := store.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryStatusError, stored.Status)
	assert.Equal(t, 8, stored.PageCount)
}

func TestCreateStorybookFromText_EmptyText(t *testing.T) {
	store := repository.NewMemoryStore()
	story := newDraft(t, store)

	err := syncPipeline(t, store, newClient(t)).CreateStorybookFromText(context.Background(), story, " \n\t ")
	require.ErrorIs(t, err, domain.ErrPipelineCreation)

	stored, err := store.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryStatusError, stored.Status)
	assert.Zero(t, stored.PageCount)
}

func TestCreateStorybookFromText_QueueDispatch(t *testing.T) {
	store := repository.NewMemoryStore()
	publisher := mocks.NewMockTaskPublisher(t)
	var published []messaging.PageImageTask
	publisher.On("PublishPageImageTasks", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published = append(published, args.Get(1).([]messaging.PageImageTask)...)
		}).
		Return(nil).Times(2)
	story := newDraft(t, store)

	p := pipeline.New(store, pipeline.NewQueueDispatcher(publisher), pipeline.Config{WordsPerPage: 3}, nil)
	require.NoError(t, p.CreateStorybookFromText(context.Background(), story, "one two three four five"))

	pages, err := store.ListPages(context.Background(), story.ID, domain.PageFilter{})
	require.NoError(t, err)
	assertPairs(t, pages, 2)
	require.Len(t, published, 2)
	assert.Equal(t, pages[1].ID, published[0].PageID)
	assert.Equal(t, pages[3].ID, published[1].PageID)
	assert.Equal(t, story.ID, published[0].StoryID)

	stored, err := store.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryStatusGenerating, stored.Status)
	assert.Equal(t, 4, stored.PageCount)
}

func TestCreateStorybookFromText_PublishFailureKeepsGoing(t *testing.T) {
	store := repository.NewMemoryStore()
	publisher := mocks.NewMockTaskPublisher(t)
	publisher.On("PublishPageImageTasks", mock.Anything, mock.Anything).Return(errors.New("channel closed")).Times(2)
	story := newDraft(t, store)

	p := pipeline.New(store, pipeline.NewQueueDispatcher(publisher), pipeline.Config{WordsPerPage: 3}, nil)
	require.NoError(t, p.CreateStorybookFromText(context.Background(), story, "one two three four five"))

	pending, err := store.ListPages(context.Background(), story.ID, domain.PageFilter{Statuses: []domain.GenStatus{domain.GenStatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
