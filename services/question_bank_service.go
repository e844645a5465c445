package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qbanksync/logger"
	"qbanksync/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuestionBankService owns categories, questions, their lineages and deployed
// seeds. Every committed change is announced through the event dispatcher.
type QuestionBankService struct {
	db     *gorm.DB
	tags   *TagService
	events *EventDispatcher
	log    *logger.Logger
}

func NewQuestionBankService(db *gorm.DB, tags *TagService, events *EventDispatcher, log *logger.Logger) *QuestionBankService {
	return &QuestionBankService{
		db:     db,
		tags:   tags,
		events: events,
		log:    log.With("service", "QuestionBankService"),
	}
}

type CreateCategoryRequest struct {
	Name      string  `json:"name" binding:"required"`
	ContextID uint    `json:"context_id" binding:"required"`
	ParentID  uint    `json:"parent_id"`
	Info      string  `json:"info"`
	IDNumber  *string `json:"id_number"`
}

type CreateQuestionRequest struct {
	CategoryID        uint     `json:"category_id" binding:"required"`
	Name              string   `json:"name" binding:"required"`
	QType             string   `json:"qtype"`
	QuestionText      string   `json:"question_text"`
	GeneralFeedback   string   `json:"general_feedback"`
	DefaultMark       *float64 `json:"default_mark"`
	Penalty           *float64 `json:"penalty"`
	QuestionVariables string   `json:"question_variables"`
	IDNumber          *string  `json:"id_number"`
	Seeds             []int64  `json:"seeds"`
	Tags              []string `json:"tags"`
}

// UpdateQuestionRequest describes a new version. Empty fields keep the
// previous version's values; nil Seeds or Tags copy them over.
type UpdateQuestionRequest struct {
	Name              string   `json:"name"`
	QuestionText      string   `json:"question_text"`
	GeneralFeedback   string   `json:"general_feedback"`
	DefaultMark       *float64 `json:"default_mark"`
	Penalty           *float64 `json:"penalty"`
	QuestionVariables string   `json:"question_variables"`
	Seeds             []int64  `json:"seeds"`
	Tags              []string `json:"tags"`
}

type DeploySeedRequest struct {
	Seed int64 `json:"seed" binding:"required"`
}

// questionDraft is everything needed to insert one question row.
type questionDraft struct {
	question models.Question
	idNumber *string
	seeds    []int64
	tags     []string
}

func (s *QuestionBankService) CreateCategory(ctx context.Context, req *CreateCategoryRequest) (*models.QuestionCategory, error) {
	if req.Name == "" || req.ContextID == 0 {
		return nil, ErrInvalidRequest
	}

	var category models.QuestionCategory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parentID := req.ParentID
		if parentID == 0 {
			top, err := s.topCategory(ctx, tx, req.ContextID)
			if err != nil {
				return err
			}
			parentID = top.ID
		} else {
			var parent models.QuestionCategory
			if err := tx.First(&parent, parentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrCategoryNotFound
				}
				return err
			}
			if parent.ContextID != req.ContextID {
				return fmt.Errorf("%w: parent category belongs to another context", ErrInvalidRequest)
			}
		}

		category = models.QuestionCategory{
			Name:      req.Name,
			ContextID: req.ContextID,
			ParentID:  parentID,
			Info:      req.Info,
			IDNumber:  req.IDNumber,
			Stamp:     uuid.NewString(),
		}
		return tx.Create(&category).Error
	})
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *QuestionBankService) GetCategory(ctx context.Context, categoryID uint) (*models.QuestionCategory, error) {
	return s.getCategory(ctx, s.db, categoryID)
}

func (s *QuestionBankService) getCategory(ctx context.Context, tx *gorm.DB, categoryID uint) (*models.QuestionCategory, error) {
	var category models.QuestionCategory
	if err := tx.WithContext(ctx).First(&category, categoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return &category, nil
}

// topCategory returns the root category of a context, creating it on first use.
func (s *QuestionBankService) topCategory(ctx context.Context, tx *gorm.DB, contextID uint) (*models.QuestionCategory, error) {
	top := models.QuestionCategory{}
	err := tx.WithContext(ctx).
		Where("context_id = ? AND parent_id = 0 AND name = ?", contextID, models.TopCategoryName).
		Attrs(models.QuestionCategory{Stamp: uuid.NewString()}).
		FirstOrCreate(&top, models.QuestionCategory{
			Name:      models.TopCategoryName,
			ContextID: contextID,
		}).Error
	if err != nil {
		return nil, err
	}
	return &top, nil
}

// categoryPathNames returns the names from the context root down to categoryID.
func (s *QuestionBankService) categoryPathNames(ctx context.Context, tx *gorm.DB, categoryID uint) ([]string, error) {
	var names []string
	seen := map[uint]bool{}
	for id := categoryID; id != 0; {
		if seen[id] {
			return nil, fmt.Errorf("category %d: parent cycle", categoryID)
		}
		seen[id] = true
		category, err := s.getCategory(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		names = append([]string{category.Name}, names...)
		id = category.ParentID
	}
	return names, nil
}

// resolveCategoryPath walks names inside a context, creating missing categories.
func (s *QuestionBankService) resolveCategoryPath(ctx context.Context, tx *gorm.DB, contextID uint, names []string) (*models.QuestionCategory, error) {
	current, err := s.topCategory(ctx, tx, contextID)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 && names[0] == models.TopCategoryName {
		names = names[1:]
	}
	for _, name := range names {
		child := models.QuestionCategory{}
		err := tx.WithContext(ctx).
			Where("context_id = ? AND parent_id = ? AND name = ?", contextID, current.ID, name).
			Attrs(models.QuestionCategory{Stamp: uuid.NewString()}).
			FirstOrCreate(&child, models.QuestionCategory{
				Name:      name,
				ContextID: contextID,
				ParentID:  current.ID,
			}).Error
		if err != nil {
			return nil, err
		}
		current = &child
	}
	return current, nil
}

// CreateQuestion stores a question as version 1 of a new lineage. The
// question is returned even when an observer fails; err then wraps
// ErrObserverFailed.
func (s *QuestionBankService) CreateQuestion(ctx context.Context, actorID uint, req *CreateQuestionRequest) (*models.Question, error) {
	if req.Name == "" || req.CategoryID == 0 {
		return nil, ErrInvalidRequest
	}

	draft := questionDraft{
		question: models.Question{
			CategoryID:        req.CategoryID,
			Name:              req.Name,
			QType:             req.QType,
			QuestionText:      req.QuestionText,
			GeneralFeedback:   req.GeneralFeedback,
			QuestionVariables: req.QuestionVariables,
			DefaultMark:       1,
			Penalty:           0.1,
		},
		idNumber: req.IDNumber,
		seeds:    req.Seeds,
		tags:     req.Tags,
	}
	if draft.question.QType == "" {
		draft.question.QType = models.QTypeStack
	}
	if req.DefaultMark != nil {
		draft.question.DefaultMark = *req.DefaultMark
	}
	if req.Penalty != nil {
		draft.question.Penalty = *req.Penalty
	}

	var question *models.Question
	var contextID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		category, err := s.getCategory(ctx, tx, req.CategoryID)
		if err != nil {
			return err
		}
		contextID = category.ContextID

		question, err = s.insertQuestion(ctx, tx, actorID, category, 0, draft)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Question created", "question_id", question.ID, "actor", actorID)
	return s.reload(ctx, question.ID, s.dispatch(ctx, EventQuestionCreated, question.ID, contextID, actorID))
}

// insertQuestion writes a question row, its version record, seeds and tags.
// A zero bankEntryID starts a new lineage at version 1.
func (s *QuestionBankService) insertQuestion(ctx context.Context, tx *gorm.DB, actorID uint, category *models.QuestionCategory, bankEntryID uint, draft questionDraft) (*models.Question, error) {
	version := 1
	if bankEntryID == 0 {
		entry := models.QuestionBankEntry{
			CategoryID: category.ID,
			IDNumber:   draft.idNumber,
			OwnerID:    actorID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return nil, err
		}
		bankEntryID = entry.ID
	} else {
		var maxVersion int
		if err := tx.Model(&models.QuestionVersion{}).
			Where("question_bank_entry_id = ?", bankEntryID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return nil, err
		}
		version = maxVersion + 1
	}

	question := draft.question
	question.ID = 0
	question.CategoryID = category.ID
	question.CreatedBy = actorID
	question.ModifiedBy = actorID
	if err := tx.Omit(clause.Associations).Create(&question).Error; err != nil {
		return nil, err
	}

	record := models.QuestionVersion{
		QuestionBankEntryID: bankEntryID,
		Version:             version,
		QuestionID:          question.ID,
		Status:              models.VersionStatusReady,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	for _, seed := range draft.seeds {
		if seen[seed] {
			continue
		}
		seen[seed] = true
		if err := tx.Create(&models.DeployedSeed{QuestionID: question.ID, Seed: seed}).Error; err != nil {
			return nil, err
		}
	}

	for _, tag := range draft.tags {
		if _, err := s.tags.AddItemTag(ctx, tx, question.ID, category.ContextID, tag); err != nil {
			return nil, err
		}
	}

	return &question, nil
}

// UpdateQuestion saves an edit as a new version in the question's lineage.
func (s *QuestionBankService) UpdateQuestion(ctx context.Context, actorID, questionID uint, req *UpdateQuestionRequest) (*models.Question, error) {
	var question *models.Question
	var contextID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Question
		if err := tx.Preload("DeployedSeeds", func(db *gorm.DB) *gorm.DB {
			return db.Order("deployed_seeds.id")
		}).First(&current, questionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}
		record, err := s.versionOf(ctx, tx, questionID)
		if err != nil {
			return err
		}
		category, err := s.getCategory(ctx, tx, current.CategoryID)
		if err != nil {
			return err
		}
		contextID = category.ContextID

		draft := questionDraft{question: current, seeds: req.Seeds, tags: req.Tags}
		if req.Name != "" {
			draft.question.Name = req.Name
		}
		if req.QuestionText != "" {
			draft.question.QuestionText = req.QuestionText
		}
		if req.GeneralFeedback != "" {
			draft.question.GeneralFeedback = req.GeneralFeedback
		}
		if req.QuestionVariables != "" {
			draft.question.QuestionVariables = req.QuestionVariables
		}
		if req.DefaultMark != nil {
			draft.question.DefaultMark = *req.DefaultMark
		}
		if req.Penalty != nil {
			draft.question.Penalty = *req.Penalty
		}
		if draft.seeds == nil {
			for _, seed := range current.DeployedSeeds {
				draft.seeds = append(draft.seeds, seed.Seed)
			}
		}
		if draft.tags == nil {
			itemTags, err := s.tags.ItemTags(ctx, tx, questionID)
			if err != nil {
				return err
			}
			for _, t := range itemTags {
				draft.tags = append(draft.tags, t.DisplayName())
			}
		}
		draft.question.DeployedSeeds = nil
		draft.question.CreatedAt = time.Time{}
		draft.question.UpdatedAt = time.Time{}

		question, err = s.insertQuestion(ctx, tx, actorID, category, record.QuestionBankEntryID, draft)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Question updated", "question_id", questionID, "new_question_id", question.ID, "actor", actorID)
	return s.reload(ctx, question.ID, s.dispatch(ctx, EventQuestionUpdated, question.ID, contextID, actorID))
}

// DeploySeed publishes a random variant. Deploying a seed value twice returns
// the existing row without an event.
func (s *QuestionBankService) DeploySeed(ctx context.Context, actorID, questionID uint, seed int64) (*models.DeployedSeed, error) {
	question, err := s.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	for i := range question.DeployedSeeds {
		if question.DeployedSeeds[i].Seed == seed {
			return &question.DeployedSeeds[i], nil
		}
	}

	deployed := models.DeployedSeed{QuestionID: questionID, Seed: seed}
	if err := s.db.WithContext(ctx).Create(&deployed).Error; err != nil {
		return nil, err
	}
	s.log.Info("Seed deployed", "question_id", questionID, "seed", seed)
	return &deployed, s.dispatch(ctx, EventQuestionUpdated, questionID, question.Category.ContextID, actorID)
}

// DeleteQuestion removes a question with its seeds, tags and version record,
// and drops the lineage once its last version is gone.
func (s *QuestionBankService) DeleteQuestion(ctx context.Context, actorID, questionID uint) error {
	var contextID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var question models.Question
		if err := tx.First(&question, questionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}
		if category, err := s.getCategory(ctx, tx, question.CategoryID); err == nil {
			contextID = category.ContextID
		}

		if err := tx.Where("question_id = ?", questionID).Delete(&models.DeployedSeed{}).Error; err != nil {
			return err
		}
		if err := s.tags.deleteItemTags(ctx, tx, questionID); err != nil {
			return err
		}

		var record models.QuestionVersion
		err := tx.Where("question_id = ?", questionID).First(&record).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			if err := tx.Delete(&record).Error; err != nil {
				return err
			}
			var remaining int64
			if err := tx.Model(&models.QuestionVersion{}).
				Where("question_bank_entry_id = ?", record.QuestionBankEntryID).
				Count(&remaining).Error; err != nil {
				return err
			}
			if remaining == 0 {
				if err := tx.Delete(&models.QuestionBankEntry{}, record.QuestionBankEntryID).Error; err != nil {
					return err
				}
			}
		}

		return tx.Delete(&models.Question{}, questionID).Error
	})
	if err != nil {
		return err
	}

	s.log.Info("Question deleted", "question_id", questionID, "actor", actorID)
	return s.dispatch(ctx, EventQuestionDeleted, questionID, contextID, actorID)
}

func (s *QuestionBankService) GetQuestion(ctx context.Context, questionID uint) (*models.Question, error) {
	var question models.Question
	err := s.db.WithContext(ctx).
		Preload("Category").
		Preload("Version").
		Preload("DeployedSeeds", func(db *gorm.DB) *gorm.DB {
			return db.Order("deployed_seeds.id")
		}).
		First(&question, questionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return &question, nil
}

func (s *QuestionBankService) ListQuestions(ctx context.Context, categoryID uint) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Preload("Version").
		Preload("DeployedSeeds", func(db *gorm.DB) *gorm.DB {
			return db.Order("deployed_seeds.id")
		}).
		Order("id").
		Find(&questions).Error
	return questions, err
}

func (s *QuestionBankService) GetSeed(ctx context.Context, seedID uint) (*models.DeployedSeed, error) {
	var seed models.DeployedSeed
	if err := s.db.WithContext(ctx).First(&seed, seedID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSeedNotFound
		}
		return nil, err
	}
	return &seed, nil
}

// VersionOf returns the version record (lineage and number) of a question.
func (s *QuestionBankService) VersionOf(ctx context.Context, questionID uint) (*models.QuestionVersion, error) {
	return s.versionOf(ctx, s.db, questionID)
}

func (s *QuestionBankService) versionOf(ctx context.Context, tx *gorm.DB, questionID uint) (*models.QuestionVersion, error) {
	var record models.QuestionVersion
	if err := tx.WithContext(ctx).Where("question_id = ?", questionID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *QuestionBankService) dispatch(ctx context.Context, name EventName, questionID, contextID, actorID uint) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Dispatch(ctx, QuestionEvent{
		Name:       name,
		QuestionID: questionID,
		ContextID:  contextID,
		ActorID:    actorID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrObserverFailed, err)
	}
	return nil
}

// reload fetches a fresh copy of the question and passes observerErr through.
func (s *QuestionBankService) reload(ctx context.Context, questionID uint, observerErr error) (*models.Question, error) {
	question, err := s.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	return question, observerErr
}
