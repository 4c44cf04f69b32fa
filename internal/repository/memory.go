package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storybook-server/internal/domain"
)

// MemoryStore - Store в памяти процесса. Возвращаемые сущности являются копиями.
type MemoryStore struct {
	mu      sync.RWMutex
	stories map[uuid.UUID]*domain.Story
	pages   map[uuid.UUID]*domain.Page
	jobs    map[uuid.UUID]*domain.ImageJob
	exports map[uuid.UUID]*domain.Export

	// PairHook вызывается после подготовки TEXT страницы пары и до IMAGE
	// страницы; ошибка отменяет всю пару.
	PairHook func(text, image *domain.Page) error
	// UpdatePageHook вызывается перед применением обновления генерации страницы.
	UpdatePageHook func(page *domain.Page) error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stories: make(map[uuid.UUID]*domain.Story),
		pages:   make(map[uuid.UUID]*domain.Page),
		jobs:    make(map[uuid.UUID]*domain.ImageJob),
		exports: make(map[uuid.UUID]*domain.Export),
	}
}

func cloneStory(s *domain.Story) *domain.Story {
	cp := *s
	if s.Settings != nil {
		cp.Settings = make(map[string]any, len(s.Settings))
		for k, v := range s.Settings {
			cp.Settings[k] = v
		}
	}
	if s.CreatedBy != nil {
		owner := *s.CreatedBy
		cp.CreatedBy = &owner
	}
	return &cp
}

func (m *MemoryStore) CreateStory(ctx context.Context, story *domain.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	if _, exists := m.stories[story.ID]; exists {
		return fmt.Errorf("%w: story %s already exists", domain.ErrInvalidInput, story.ID)
	}
	now := time.Now().UTC()
	story.CreatedAt, story.UpdatedAt = now, now
	m.stories[story.ID] = cloneStory(story)
	return nil
}

func (m *MemoryStore) GetStory(ctx context.Context, id uuid.UUID) (*domain.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stories[id]
	if !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	return cloneStory(s), nil
}

func (m *MemoryStore) ListStories(ctx context.Context, limit, offset int) ([]*domain.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*domain.Story, 0, len(m.stories))
	for _, s := range m.stories {
		all = append(all, cloneStory(s))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*domain.Story{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) UpdateStoryStatus(ctx context.Context, id uuid.UUID, status domain.StoryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stories[id]
	if !ok {
		return fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) FinalizeStory(ctx context.Context, id uuid.UUID, status domain.StoryStatus) (*domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stories[id]
	if !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	s.Status = status
	s.PageCount = m.countPagesLocked(id)
	s.UpdatedAt = time.Now().UTC()
	return cloneStory(s), nil
}

func (m *MemoryStore) SettleStory(ctx context.Context, id uuid.UUID) (domain.StoryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stories[id]
	if !ok {
		return "", fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	if s.Status != domain.StoryStatusGenerating {
		return s.Status, nil
	}
	for _, p := range m.pages {
		if p.StoryID == id && p.Kind == domain.PageKindImage &&
			(p.GenStatus == domain.GenStatusPending || p.GenStatus == domain.GenStatusRunning) {
			return s.Status, nil
		}
	}
	s.Status = domain.StoryStatusReady
	s.PageCount = m.countPagesLocked(id)
	s.UpdatedAt = time.Now().UTC()
	return s.Status, nil
}

func (m *MemoryStore) DeleteStory(ctx context.Context, id uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stories[id]; !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	var artifacts []string
	for pid, p := range m.pages {
		if p.StoryID != id {
			continue
		}
		if p.ImageArtifact != "" {
			artifacts = append(artifacts, p.ImageArtifact)
		}
		for jid, j := range m.jobs {
			if j.PageID == pid {
				delete(m.jobs, jid)
			}
		}
		delete(m.pages, pid)
	}
	for eid, e := range m.exports {
		if e.StoryID != id {
			continue
		}
		if e.Artifact != "" {
			artifacts = append(artifacts, e.Artifact)
		}
		delete(m.exports, eid)
	}
	delete(m.stories, id)
	sort.Strings(artifacts)
	return artifacts, nil
}

func (m *MemoryStore) countPagesLocked(storyID uuid.UUID) int {
	n := 0
	for _, p := range m.pages {
		if p.StoryID == storyID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) indexTakenLocked(storyID uuid.UUID, index int) bool {
	for _, p := range m.pages {
		if p.StoryID == storyID && p.Index == index {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreatePagePair(ctx context.Context, text, image *domain.Page) error {
	if err := validatePair(text, image); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stories[text.StoryID]; !ok {
		return fmt.Errorf("%w: story %s", domain.ErrNotFound, text.StoryID)
	}
	if m.indexTakenLocked(text.StoryID, text.Index) || m.indexTakenLocked(image.StoryID, image.Index) {
		return fmt.Errorf("%w: indices %d/%d", domain.ErrDuplicatePageIndex, text.Index, image.Index)
	}

	now := time.Now().UTC()
	staged := make([]*domain.Page, 0, 2)
	for _, p := range []*domain.Page{text, image} {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt, p.UpdatedAt = now, now
		if p == image && m.PairHook != nil {
			if err := m.PairHook(text, image); err != nil {
				return fmt.Errorf("failed to insert page pair: %w", err)
			}
		}
		staged = append(staged, p.Clone())
	}
	for _, p := range staged {
		m.pages[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) GetPage(ctx context.Context, id uuid.UUID) (*domain.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: page %s", domain.ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) ListPages(ctx context.Context, storyID uuid.UUID, filter domain.PageFilter) ([]*domain.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pages := make([]*domain.Page, 0)
	for _, p := range m.pages {
		if p.StoryID == storyID && filter.Matches(p) {
			pages = append(pages, p.Clone())
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	return pages, nil
}

func (m *MemoryStore) UpdatePageGeneration(ctx context.Context, page *domain.Page) error {
	if err := page.Validate(); err != nil {
		return err
	}
	if m.UpdatePageHook != nil {
		if err := m.UpdatePageHook(page); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.pages[page.ID]
	if !ok {
		return fmt.Errorf("%w: page %s", domain.ErrNotFound, page.ID)
	}
	stored.GenStatus = page.GenStatus
	stored.ImageArtifact = page.ImageArtifact
	stored.GenError = page.GenError
	stored.ImageMeta = page.Clone().ImageMeta
	stored.UpdatedAt = time.Now().UTC()
	page.UpdatedAt = stored.UpdatedAt
	return nil
}

func cloneJob(j *domain.ImageJob) *domain.ImageJob {
	cp := *j
	cp.RequestPayload = maps.Clone(j.RequestPayload)
	cp.ResponsePayload = maps.Clone(j.ResponsePayload)
	return &cp
}

func (m *MemoryStore) CreateImageJob(ctx context.Context, job *domain.ImageJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pages[job.PageID]; !ok {
		return fmt.Errorf("%w: page %s", domain.ErrNotFound, job.PageID)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now().UTC()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) UpdateImageJob(ctx context.Context, job *domain.ImageJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: image job %s", domain.ErrNotFound, job.ID)
	}
	createdAt := stored.CreatedAt
	m.jobs[job.ID] = cloneJob(job)
	m.jobs[job.ID].CreatedAt = createdAt
	return nil
}

func (m *MemoryStore) ListImageJobs(ctx context.Context, pageID uuid.UUID) ([]*domain.ImageJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*domain.ImageJob, 0)
	for _, j := range m.jobs {
		if j.PageID == pageID {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Attempt < jobs[j].Attempt })
	return jobs, nil
}

func cloneExport(e *domain.Export) *domain.Export {
	cp := *e
	cp.Meta = maps.Clone(e.Meta)
	return &cp
}

func (m *MemoryStore) CreateExport(ctx context.Context, export *domain.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stories[export.StoryID]; !ok {
		return fmt.Errorf("%w: story %s", domain.ErrNotFound, export.StoryID)
	}
	if export.ID == uuid.Nil {
		export.ID = uuid.New()
	}
	export.CreatedAt = time.Now().UTC()
	m.exports[export.ID] = cloneExport(export)
	return nil
}

func (m *MemoryStore) UpdateExport(ctx context.Context, export *domain.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.exports[export.ID]
	if !ok {
		return fmt.Errorf("%w: export %s", domain.ErrNotFound, export.ID)
	}
	stored.Artifact = export.Artifact
	stored.Status = export.Status
	stored.Meta = maps.Clone(export.Meta)
	return nil
}

func (m *MemoryStore) GetExport(ctx context.Context, id uuid.UUID) (*domain.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.exports[id]
	if !ok {
		return nil, fmt.Errorf("%w: export %s", domain.ErrNotFound, id)
	}
	return cloneExport(e), nil
}

func (m *MemoryStore) ListExports(ctx context.Context, storyID uuid.UUID) ([]*domain.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exports := make([]*domain.Export, 0)
	for _, e := range m.exports {
		if e.StoryID == storyID {
			exports = append(exports, cloneExport(e))
		}
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].CreatedAt.Before(exports[j].CreatedAt) })
	return exports, nil
}
