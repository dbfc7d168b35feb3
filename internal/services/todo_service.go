package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/charlesng35/duocal/internal/models"
	"github.com/charlesng35/duocal/internal/visibility"
	apperrors "github.com/charlesng35/duocal/pkg/errors"
)

const (
	maxTodoTitle       = 200
	maxTodoDescription = 1000
)

// Todo list scopes.
const (
	TodoScopeAll      = "all"
	TodoScopeShared   = "shared"
	TodoScopePersonal = "personal"
)

// Todo completion filters.
const (
	TodoFilterAll       = "all"
	TodoFilterActive    = "active"
	TodoFilterCompleted = "completed"
)

// TodoInput is the full set of writable todo fields.
type TodoInput struct {
	Title       string
	Description *string
	Priority    string
	DueDate     *time.Time
	IsShared    bool
	AssigneeID  *string
	CategoryID  *string
	SortOrder   *int
}

// ListTodosInput narrows a todo listing.
type ListTodosInput struct {
	ViewerID string
	Scope    string
	Filter   string
	Priority string
}

// TodoOption customises the TodoService.
type TodoOption func(*TodoService)

// WithTodoClock injects a custom time source.
func WithTodoClock(clock func() time.Time) TodoOption {
	return func(s *TodoService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTodoNotifier sets the in-app notification sink.
func WithTodoNotifier(notifier Notifier) TodoOption {
	return func(s *TodoService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// TodoService owns todos and their conversion into events.
type TodoService struct {
	db         *gorm.DB
	categories *CategoryService
	events     *EventService
	notifier   Notifier
	now        func() time.Time
}

// NewTodoService constructs a TodoService.
func NewTodoService(db *gorm.DB, categories *CategoryService, events *EventService, opts ...TodoOption) (*TodoService, error) {
	if db == nil {
		return nil, errors.New("todo service: db is required")
	}
	if events == nil {
		return nil, errors.New("todo service: event service is required")
	}
	if categories == nil {
		categories = events.categories
	}
	service := &TodoService{
		db:         db,
		categories: categories,
		events:     events,
		notifier:   noopNotifier{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// List returns the todos visible to the viewer in the requested scope.
func (s *TodoService) List(ctx context.Context, input ListTodosInput) ([]models.Todo, error) {
	ctx = ensureContext(ctx)
	viewer, err := s.events.loadUser(ctx, input.ViewerID)
	if err != nil {
		return nil, err
	}
	partner, err := s.events.partnerOf(ctx, viewer)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	query := db.Model(&models.Todo{}).
		Preload("Category").
		Preload("Assignee")

	switch strings.ToLower(strings.TrimSpace(defaultIfEmpty(input.Scope, TodoScopeAll))) {
	case TodoScopeAll:
		if partner != nil {
			query = query.Where("owner_id = ? OR (owner_id IN (?) AND (assignee_id = ? OR is_shared = ?))",
				viewer.ID, linkedPartner(db, viewer, partner), viewer.ID, true)
		} else {
			query = query.Where("owner_id = ?", viewer.ID)
		}
	case TodoScopeShared:
		if partner != nil {
			query = query.Where("(owner_id = ? AND is_shared = ?) OR (owner_id IN (?) AND (assignee_id = ? OR is_shared = ?))",
				viewer.ID, true, linkedPartner(db, viewer, partner), viewer.ID, true)
		} else {
			query = query.Where("owner_id = ? AND is_shared = ?", viewer.ID, true)
		}
	case TodoScopePersonal:
		query = query.Where("owner_id = ? AND is_shared = ?", viewer.ID, false)
	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown scope %q", input.Scope))
	}

	switch strings.ToLower(strings.TrimSpace(defaultIfEmpty(input.Filter, TodoFilterAll))) {
	case TodoFilterAll:
	case TodoFilterActive:
		query = query.Where("completed = ?", false)
	case TodoFilterCompleted:
		query = query.Where("completed = ?", true)
	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown filter %q", input.Filter))
	}

	if strings.TrimSpace(input.Priority) != "" {
		priority, err := models.ParsePriority(input.Priority)
		if err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
		query = query.Where("priority = ?", priority)
	}

	var rows []models.Todo
	if err := query.
		Order("completed ASC").
		Order(priorityOrder).
		Order("due_date IS NULL, due_date ASC").
		Order("sort_order ASC").
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("todo service: list todos: %w", err)
	}
	return visibility.Todos(rows, viewer.ID, visibility.PartnerLookup(partner)), nil
}

// priorityOrder sorts URGENT first; the stored values do not sort lexically.
const priorityOrder = "CASE priority WHEN 'URGENT' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END"

// Get returns a todo the viewer may see.
func (s *TodoService) Get(ctx context.Context, viewerID, todoID string) (*models.Todo, error) {
	ctx = ensureContext(ctx)
	viewer, err := s.events.loadUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	todo, err := s.load(s.db.WithContext(ctx).Preload("Category").Preload("Assignee"), todoID)
	if err != nil {
		return nil, err
	}
	partner, err := s.events.partnerOf(ctx, viewer)
	if err != nil {
		return nil, err
	}
	resolved, ok := visibility.Todo(*todo, viewer.ID, visibility.PartnerLookup(partner)(todo.OwnerID))
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &resolved, nil
}

// Create adds a todo owned by ownerID.
func (s *TodoService) Create(ctx context.Context, ownerID string, input TodoInput) (*models.Todo, error) {
	ctx = ensureContext(ctx)
	owner, err := s.events.loadUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	todo := models.Todo{OwnerID: owner.ID}
	if err := applyTodoInput(&todo, owner, input); err != nil {
		return nil, err
	}
	if err := s.categories.EnsureOwned(ctx, owner.ID, todo.CategoryID); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Omit("Owner", "Assignee", "Category").Create(&todo).Error; err != nil {
		return nil, fmt.Errorf("todo service: create todo: %w", err)
	}

	if todo.AssigneeID != nil {
		s.notifyAssigned(ctx, owner, &todo)
	}
	return &todo, nil
}

// Update replaces the writable fields of an owned todo.
func (s *TodoService) Update(ctx context.Context, ownerID, todoID string, input TodoInput) (*models.Todo, error) {
	ctx = ensureContext(ctx)
	owner, err := s.events.loadUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var (
		updated       models.Todo
		newlyAssigned bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadOwned(tx, owner.ID, todoID)
		if err != nil {
			return err
		}
		updated = *current
		if err := applyTodoInput(&updated, owner, input); err != nil {
			return err
		}
		if err := s.categories.ensureOwnedTx(tx, owner.ID, updated.CategoryID); err != nil {
			return err
		}
		if err := tx.Model(&updated).
			Select("title", "description", "priority", "due_date", "is_shared", "assignee_id", "category_id", "sort_order").
			Updates(&updated).Error; err != nil {
			return fmt.Errorf("todo service: update todo: %w", err)
		}
		newlyAssigned = updated.AssigneeID != nil && !current.AssignedTo(*updated.AssigneeID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if newlyAssigned {
		s.notifyAssigned(ctx, owner, &updated)
	}
	return &updated, nil
}

// Delete removes an owned todo.
func (s *TodoService) Delete(ctx context.Context, ownerID, todoID string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", todoID, ownerID).Delete(&models.Todo{})
	if result.Error != nil {
		return fmt.Errorf("todo service: delete todo: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Toggle flips the completion state. The owner and the assignee may toggle;
// completing a shared or assigned todo notifies the other party.
func (s *TodoService) Toggle(ctx context.Context, actorID, todoID string) (*models.Todo, error) {
	ctx = ensureContext(ctx)
	actor, err := s.events.loadUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	partner, err := s.events.partnerOf(ctx, actor)
	if err != nil {
		return nil, err
	}

	var todo *models.Todo
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(tx, todoID)
		if err != nil {
			return err
		}
		owner := current.OwnerID == actor.ID
		assignee := current.AssignedTo(actor.ID) &&
			visibility.TodoDecision(current, actor.ID, visibility.PartnerLookup(partner)(current.OwnerID)) != visibility.Denied
		if !owner && !assignee {
			return apperrors.ErrNotFound
		}

		completed := !current.Completed
		var completedAt *time.Time
		if completed {
			now := s.now().UTC()
			completedAt = &now
		}
		result := bulk(tx).Model(&models.Todo{}).
			Where("id = ? AND completed = ?", current.ID, current.Completed).
			Updates(map[string]any{"completed": completed, "completed_at": completedAt})
		if result.Error != nil {
			return fmt.Errorf("todo service: toggle todo: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return apperrors.ErrConflict
		}
		current.Completed = completed
		current.CompletedAt = completedAt
		todo = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if todo.Completed && (todo.IsShared || todo.AssigneeID != nil) {
		recipient := todo.OwnerID
		if recipient == actor.ID && todo.AssigneeID != nil {
			recipient = *todo.AssigneeID
		} else if recipient == actor.ID && todo.IsShared && actor.HasPartner() {
			recipient = *actor.PartnerID
		}
		if recipient != actor.ID {
			s.notifier.Notify(ctx, CreateNotificationInput{
				UserID:    recipient,
				Type:      models.NotificationTodoCompleted,
				Title:     fmt.Sprintf("%s completed %q", actor.DisplayName(), todo.Title),
				ActionURL: "/todos?todo=" + todo.ID,
				TodoID:    stringPtr(todo.ID),
			})
		}
	}
	return todo, nil
}

// Reorder assigns sort_order to the owner's todos following ids. Unknown or
// foreign ids are ignored.
func (s *TodoService) Reorder(ctx context.Context, ownerID string, ids []string) error {
	ctx = ensureContext(ctx)
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range ids {
			if err := bulk(tx).Model(&models.Todo{}).
				Where("id = ? AND owner_id = ?", id, ownerID).
				Update("sort_order", i).Error; err != nil {
				return fmt.Errorf("todo service: reorder todos: %w", err)
			}
		}
		return nil
	})
}

// ConvertToEvent turns an owned todo into an event at most once. A todo
// without a due date becomes an all-day event today; the todo is then
// marked completed.
func (s *TodoService) ConvertToEvent(ctx context.Context, ownerID, todoID string) (*models.Event, error) {
	ctx = ensureContext(ctx)
	todo, err := s.loadOwned(s.db.WithContext(ctx), strings.TrimSpace(ownerID), todoID)
	if err != nil {
		return nil, err
	}

	var converted int64
	if err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("converted_from_todo_id = ?", todo.ID).
		Count(&converted).Error; err != nil {
		return nil, fmt.Errorf("todo service: check conversion: %w", err)
	}
	if converted > 0 {
		return nil, ErrAlreadyConverted
	}

	input := EventInput{
		Title:       todo.Title,
		Description: todo.Description,
		CategoryID:  todo.CategoryID,
		Visibility:  string(models.VisibilityPrivate),
		Status:      string(models.EventStatusBusy),
	}
	if todo.IsShared {
		input.Visibility = string(models.VisibilityShared)
	}
	if todo.DueDate != nil {
		input.StartDate = todo.DueDate.UTC()
		input.EndDate = input.StartDate.Add(time.Hour)
	} else {
		now := s.now().UTC()
		input.StartDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		input.EndDate = input.StartDate.Add(time.Hour)
		input.IsAllDay = true
	}

	ev, err := s.events.create(ctx, todo.OwnerID, input, &todo.ID)
	if err != nil {
		return nil, err
	}

	if !todo.Completed {
		if err := bulk(s.db.WithContext(ctx)).Model(&models.Todo{}).
			Where("id = ?", todo.ID).
			Updates(map[string]any{"completed": true, "completed_at": s.now().UTC()}).Error; err != nil {
			return nil, fmt.Errorf("todo service: complete converted todo: %w", err)
		}
	}
	return ev, nil
}

func (s *TodoService) load(db *gorm.DB, todoID string) (*models.Todo, error) {
	var todo models.Todo
	if err := db.First(&todo, "id = ?", strings.TrimSpace(todoID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("todo service: load todo: %w", err)
	}
	return &todo, nil
}

func (s *TodoService) loadOwned(db *gorm.DB, ownerID, todoID string) (*models.Todo, error) {
	todo, err := s.load(db, todoID)
	if err != nil {
		return nil, err
	}
	if todo.OwnerID != ownerID {
		return nil, apperrors.ErrNotFound
	}
	return todo, nil
}

func (s *TodoService) notifyAssigned(ctx context.Context, owner *models.User, todo *models.Todo) {
	s.notifier.Notify(ctx, CreateNotificationInput{
		UserID:    *todo.AssigneeID,
		Type:      models.NotificationTodoAssigned,
		Title:     fmt.Sprintf("%s assigned you %q", owner.DisplayName(), todo.Title),
		ActionURL: "/todos?todo=" + todo.ID,
		TodoID:    stringPtr(todo.ID),
	})
}

func applyTodoInput(todo *models.Todo, owner *models.User, input TodoInput) error {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return apperrors.NewBadRequest("title is required")
	}
	if utf8.RuneCountInString(title) > maxTodoTitle {
		return apperrors.NewBadRequest("title is too long")
	}
	description := trimmedPtr(input.Description)
	if description != nil && utf8.RuneCountInString(*description) > maxTodoDescription {
		return apperrors.NewBadRequest("description is too long")
	}
	priority, err := models.ParsePriority(input.Priority)
	if err != nil {
		return apperrors.NewBadRequest(err.Error())
	}

	assignee := trimmedPtr(input.AssigneeID)
	if assignee != nil && (!owner.HasPartner() || *assignee != *owner.PartnerID) {
		return ErrAssigneeNotPartner
	}

	todo.Title = title
	todo.Description = description
	todo.Priority = priority
	todo.DueDate = input.DueDate
	todo.IsShared = input.IsShared
	todo.AssigneeID = assignee
	todo.CategoryID = trimmedPtr(input.CategoryID)
	if input.SortOrder != nil {
		todo.SortOrder = *input.SortOrder
	}
	return nil
}
