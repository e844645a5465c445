package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"qbanksync/logger"
	"qbanksync/models"
	"qbanksync/qformat"

	"gorm.io/gorm"
)

// ExchangeService exports questions to the XML interchange format and imports
// documents back into the bank.
type ExchangeService struct {
	db   *gorm.DB
	bank *QuestionBankService
	tags *TagService
	log  *logger.Logger
}

func NewExchangeService(db *gorm.DB, bank *QuestionBankService, tags *TagService, log *logger.Logger) *ExchangeService {
	return &ExchangeService{
		db:   db,
		bank: bank,
		tags: tags,
		log:  log.With("service", "ExchangeService"),
	}
}

type ImportRequest struct {
	// CategoryID is where questions land until the document switches category.
	CategoryID uint
	ActorID    uint
	// CategoryFromFile honours category markers in the document.
	CategoryFromFile bool
	Document         *qformat.Quiz
}

type ImportResult struct {
	QuestionIDs []uint `json:"question_ids"`
	CategoryIDs []uint `json:"category_ids"`
}

// Export writes a question and its category marker as a document.
func (s *ExchangeService) Export(ctx context.Context, questionID uint) (*qformat.Quiz, error) {
	question, err := s.bank.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	names, err := s.bank.categoryPathNames(ctx, s.db, question.CategoryID)
	if err != nil {
		return nil, err
	}
	itemTags, err := s.tags.ItemTags(ctx, nil, questionID)
	if err != nil {
		return nil, err
	}

	var entry models.QuestionBankEntry
	if question.Version != nil {
		if err := s.db.WithContext(ctx).First(&entry, question.Version.QuestionBankEntryID).Error; err != nil {
			return nil, fmt.Errorf("load bank entry of question %d: %w", questionID, err)
		}
	}

	categoryItem := qformat.Question{
		Type:     qformat.TypeCategory,
		Category: &qformat.Text{Text: qformat.CategoryPath(names...)},
		Info:     &qformat.FormattedText{Format: models.FormatHTML, Text: question.Category.Info},
		IDNumber: deref(question.Category.IDNumber),
	}

	item := qformat.Question{
		Type:              question.QType,
		Name:              &qformat.Text{Text: question.Name},
		QuestionText:      &qformat.FormattedText{Format: question.QuestionTextFormat, Text: question.QuestionText},
		GeneralFeedback:   &qformat.FormattedText{Format: models.FormatHTML, Text: question.GeneralFeedback},
		DefaultGrade:      formatFloat(question.DefaultMark),
		Penalty:           formatFloat(question.Penalty),
		IDNumber:          deref(entry.IDNumber),
		QuestionVariables: &qformat.Text{Text: question.QuestionVariables},
	}
	for _, seed := range question.DeployedSeeds {
		item.DeployedSeeds = append(item.DeployedSeeds, strconv.FormatInt(seed.Seed, 10))
	}
	tagNames := make([]string, 0, len(itemTags))
	for _, t := range itemTags {
		tagNames = append(tagNames, t.DisplayName())
	}
	item.SetTagNames(tagNames)

	return &qformat.Quiz{Questions: []qformat.Question{categoryItem, item}}, nil
}

// Import stores every question of the document in one transaction, then
// announces each created question. The import either fully succeeds or leaves
// nothing behind. Observer failures after the commit wrap ErrObserverFailed
// and come with a valid result.
func (s *ExchangeService) Import(ctx context.Context, req *ImportRequest) (*ImportResult, error) {
	if req.Document == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	if err := req.Document.Validate(); err != nil {
		return nil, err
	}

	result := &ImportResult{}
	var contextID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.bank.getCategory(ctx, tx, req.CategoryID)
		if err != nil {
			return err
		}
		contextID = current.ContextID

		for i := range req.Document.Questions {
			item := &req.Document.Questions[i]
			if item.IsCategory() {
				if !req.CategoryFromFile {
					continue
				}
				names, err := qformat.SplitCategoryPath(item.Category.Text)
				if err != nil {
					return err
				}
				current, err = s.bank.resolveCategoryPath(ctx, tx, contextID, names)
				if err != nil {
					return err
				}
				result.CategoryIDs = append(result.CategoryIDs, current.ID)
				continue
			}

			draft, err := draftFromItem(item)
			if err != nil {
				return fmt.Errorf("question %d: %w", i, err)
			}
			question, err := s.bank.insertQuestion(ctx, tx, req.ActorID, current, 0, draft)
			if err != nil {
				return err
			}
			result.QuestionIDs = append(result.QuestionIDs, question.ID)
		}

		if len(result.QuestionIDs) == 0 {
			return fmt.Errorf("%w: no questions", ErrInvalidDocument)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Questions imported", "count", len(result.QuestionIDs), "category_id", req.CategoryID)

	var observerErr error
	for _, id := range result.QuestionIDs {
		if err := s.bank.dispatch(ctx, EventQuestionCreated, id, contextID, req.ActorID); err != nil && observerErr == nil {
			observerErr = err
		}
	}
	return result, observerErr
}

func draftFromItem(item *qformat.Question) (questionDraft, error) {
	draft := questionDraft{
		question: models.Question{
			Name:               strings.TrimSpace(item.Name.Text),
			QType:              item.Type,
			QuestionTextFormat: models.FormatHTML,
			DefaultMark:        1,
			Penalty:            0.1,
		},
		tags: item.TagNames(),
	}
	if item.QuestionText != nil {
		draft.question.QuestionText = item.QuestionText.Text
		if item.QuestionText.Format != "" {
			draft.question.QuestionTextFormat = item.QuestionText.Format
		}
	}
	if item.GeneralFeedback != nil {
		draft.question.GeneralFeedback = item.GeneralFeedback.Text
	}
	if item.QuestionVariables != nil {
		draft.question.QuestionVariables = item.QuestionVariables.Text
	}
	if item.DefaultGrade != "" {
		v, err := strconv.ParseFloat(item.DefaultGrade, 64)
		if err != nil {
			return draft, fmt.Errorf("%w: defaultgrade %q", ErrInvalidDocument, item.DefaultGrade)
		}
		draft.question.DefaultMark = v
	}
	if item.Penalty != "" {
		v, err := strconv.ParseFloat(item.Penalty, 64)
		if err != nil {
			return draft, fmt.Errorf("%w: penalty %q", ErrInvalidDocument, item.Penalty)
		}
		draft.question.Penalty = v
	}
	if id := strings.TrimSpace(item.IDNumber); id != "" {
		draft.idNumber = &id
	}
	for _, raw := range item.DeployedSeeds {
		seed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return draft, fmt.Errorf("%w: deployedseed %q", ErrInvalidDocument, raw)
		}
		draft.seeds = append(draft.seeds, seed)
	}
	return draft, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
