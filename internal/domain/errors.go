package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input data")
	ErrDuplicatePageIndex = errors.New("page index already used in this story")

	// ErrPrecondition - неверный вызов, например генерация изображения для TEXT страницы.
	ErrPrecondition = errors.New("precondition failed")

	// ErrPipelineCreation - сбой нарезки или сохранения страниц. История
	// должна закончиться в ERROR.
	ErrPipelineCreation = errors.New("storybook pipeline creation failed")

	// ErrGenerationAborted возвращается, когда проблема конфигурации
	// останавливает оставшуюся генерацию прогона.
	ErrGenerationAborted = errors.New("image generation aborted")

	ErrInvalidExportOptions = errors.New("invalid export options")
)

// PreconditionError - вызов генератора для страницы, которую нельзя сгенерировать.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }
