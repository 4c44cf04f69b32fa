package repository

import (
	"github.com/google/uuid"

	"storybook-server/internal/domain"
)

func newTestStory() *domain.Story {
	return &domain.Story{
		Title:      "Fixture",
		SourceType: domain.SourceTypePaste,
		SourceText: "fixture text",
		Settings:   domain.DefaultSettings(),
		Status:     domain.StoryStatusDraft,
	}
}

func newTestPair(storyID uuid.UUID, i int) (*domain.Page, *domain.Page) {
	return domain.NewTextPage(storyID, 2*i, "fixture"), domain.NewImagePage(storyID, 2*i+1, "fixture")
}
