package services

import (
	"context"
	"testing"

	"qbanksync/logger"
	"qbanksync/models"
	"qbanksync/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testContextID uint = 5
	testActor     uint = 7
	testSystem    uint = 2
)

type harness struct {
	db        *gorm.DB
	events    *EventDispatcher
	tags      *TagService
	bank      *QuestionBankService
	exchange  *ExchangeService
	ledger    *LedgerService
	linker    *VersionLinker
	queue     *DBTaskQueue
	corrector *TagCorrector
	settings  *SettingsService
	sync      *SyncService
	worker    *TaskWorker
}

// newHarness wires the bank and the sync core over a fresh database.
// listen sets the default of the listenevents toggle.
func newHarness(t *testing.T, listen bool) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	h := &harness{db: db}
	h.events = NewEventDispatcher(log)
	h.tags = NewTagService(db)
	h.bank = NewQuestionBankService(db, h.tags, h.events, log)
	h.exchange = NewExchangeService(db, h.bank, h.tags, log)
	h.ledger = NewLedgerService(db)
	h.linker = NewVersionLinker(db, log)
	h.queue = NewDBTaskQueue(db)
	h.corrector = NewTagCorrector(db, h.tags, h.queue, 0, log)
	h.settings = NewSettingsService(db, listen)
	h.sync = NewSyncService(SyncServiceDeps{
		Bank:        h.bank,
		Exchange:    h.exchange,
		Tags:        h.tags,
		Ledger:      h.ledger,
		Linker:      h.linker,
		Corrector:   h.corrector,
		SystemActor: testSystem,
	}, log)
	RegisterSyncObservers(h.events, h.sync, h.settings, log)
	h.worker = NewTaskWorker(h.queue, 0, log)
	h.worker.Register(TaskTypeAddQuestionTag, h.corrector)
	return h
}

func (h *harness) category(t *testing.T, name string) *models.QuestionCategory {
	t.Helper()
	category, err := h.bank.CreateCategory(context.Background(), &CreateCategoryRequest{
		Name:      name,
		ContextID: testContextID,
	})
	require.NoError(t, err)
	return category
}

func (h *harness) base(t *testing.T, categoryID uint, name string, seeds ...int64) *models.Question {
	t.Helper()
	question, err := h.bank.CreateQuestion(context.Background(), testActor, &CreateQuestionRequest{
		CategoryID:        categoryID,
		Name:              name,
		QuestionText:      "<p>Differentiate {@f@}</p>",
		QuestionVariables: "f: x^2;",
		Seeds:             seeds,
	})
	require.NoError(t, err)
	return question
}

func (h *harness) tagNames(t *testing.T, questionID uint) []string {
	t.Helper()
	itemTags, err := h.tags.ItemTags(context.Background(), nil, questionID)
	require.NoError(t, err)
	names := make([]string, 0, len(itemTags))
	for _, tag := range itemTags {
		names = append(names, tag.DisplayName())
	}
	return names
}

func (h *harness) ledgerRows(t *testing.T) []models.SyncCopy {
	t.Helper()
	rows, err := h.ledger.All(context.Background())
	require.NoError(t, err)
	return rows
}

func (h *harness) countQuestions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.Question{}).Count(&n).Error)
	return n
}

func (h *harness) lineage(t *testing.T, questionID uint) *models.QuestionVersion {
	t.Helper()
	record, err := h.bank.VersionOf(context.Background(), questionID)
	require.NoError(t, err)
	return record
}

func nopLogger() *logger.Logger { return logger.Nop() }
