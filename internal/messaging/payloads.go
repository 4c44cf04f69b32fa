// Package messaging доставляет задачи на изображения страниц через RabbitMQ
// от пайплайна к воркеру изображений.
package messaging

import (
	"github.com/google/uuid"
)

// PageImageTask просит воркер сгенерировать изображение одной IMAGE страницы.
type PageImageTask struct {
	TaskID  string    `json:"task_id"`
	StoryID uuid.UUID `json:"story_id"`
	PageID  uuid.UUID `json:"page_id"`
}

// PageImageTaskBatch объединяет задачи, обрабатываемые по порядку в одной доставке.
type PageImageTaskBatch struct {
	BatchID string          `json:"batch_id"`
	Tasks   []PageImageTask `json:"tasks"`
}

// NewPageImageTask создаёт задачу с новым id.
func NewPageImageTask(storyID, pageID uuid.UUID) PageImageTask {
	return PageImageTask{
		TaskID:  uuid.NewString(),
		StoryID: storyID,
		PageID:  pageID,
	}
}
