package services

import (
	"context"
	"testing"

	"qbanksync/models"
	"qbanksync/qformat"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileMissingCreatesVariantForSeed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Derivative", 42)
	require.Len(t, base.DeployedSeeds, 1)
	seedID := base.DeployedSeeds[0].ID

	result, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Empty(t, result.Failed)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, base.ID, rows[0].QuestionID)
	assert.Equal(t, seedID, rows[0].SeedID)
	require.True(t, rows[0].Resolved())

	variant, err := h.bank.GetQuestion(ctx, rows[0].VariantQuestionID)
	require.NoError(t, err)
	assert.Contains(t, variant.Name, "(42)")
	assert.Equal(t, "synccopy of Derivative (42)", variant.Name)
	assert.Equal(t, base.QuestionText, variant.QuestionText)
	assert.Equal(t, base.QuestionVariables, variant.QuestionVariables)
	require.Len(t, variant.DeployedSeeds, 1)
	assert.Equal(t, int64(42), variant.DeployedSeeds[0].Seed)

	baseLineage := h.lineage(t, base.ID)
	assert.Equal(t, []string{SyncCopyTag, crossReferenceName(baseLineage.QuestionBankEntryID)}, h.tagNames(t, variant.ID))

	assert.Equal(t, "synccopies", variant.Category.Name)
	assert.Equal(t, category.ID, variant.Category.ParentID)
	assert.Equal(t, testContextID, variant.Category.ContextID)

	again, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Empty(t, again.Failed)
	assert.Len(t, h.ledgerRows(t), 1)
	assert.Equal(t, int64(2), h.countQuestions(t))
}

func TestReconcileMissingOneCopyPerSeed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	first := h.base(t, category.ID, "Limits", 1, 2, 3)
	second := h.base(t, category.ID, "Series", 9)

	result, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	assert.Len(t, result.Created, 4)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 4)
	perBase := map[uint]int{}
	seeds := map[uint]bool{}
	for _, row := range rows {
		perBase[row.QuestionID]++
		assert.False(t, seeds[row.SeedID], "seed %d covered twice", row.SeedID)
		seeds[row.SeedID] = true
	}
	assert.Equal(t, 3, perBase[first.ID])
	assert.Equal(t, 1, perBase[second.ID])
	assert.Equal(t, int64(6), h.countQuestions(t))
}

func TestListenEventsReconcilesOnCreate(t *testing.T) {
	h := newHarness(t, true)
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Integrals", 4, 8)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, base.ID, row.QuestionID)
		assert.True(t, row.Resolved())
	}
	assert.Equal(t, int64(3), h.countQuestions(t))
}

func TestListenEventsOffLeavesSeedsUncovered(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.settings.SetListenEvents(context.Background(), false))
	category := h.category(t, "Default")
	h.base(t, category.ID, "Integrals", 4)

	assert.Empty(t, h.ledgerRows(t))
	assert.Equal(t, int64(1), h.countQuestions(t))
}

func TestBatchReconcileWithListenEventsReportsEveryCopy(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	h.base(t, category.ID, "Limits", 1, 2, 3)
	require.Empty(t, h.ledgerRows(t))
	require.NoError(t, h.settings.SetListenEvents(ctx, true))

	created := counterValue(t, copiesTotal.WithLabelValues("created"))
	skipped := counterValue(t, copiesTotal.WithLabelValues("skipped"))

	result, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	assert.Len(t, result.Created, 3)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Failed)
	assert.Len(t, h.ledgerRows(t), 3)

	assert.Equal(t, created+3, counterValue(t, copiesTotal.WithLabelValues("created")))
	assert.Equal(t, skipped, counterValue(t, copiesTotal.WithLabelValues("skipped")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestDeploySeedTriggersCopy(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Matrices")
	assert.Empty(t, h.ledgerRows(t))

	seed, err := h.bank.DeploySeed(ctx, testActor, base.ID, 1234)
	require.NoError(t, err)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, seed.ID, rows[0].SeedID)
	variant, err := h.bank.GetQuestion(ctx, rows[0].VariantQuestionID)
	require.NoError(t, err)
	assert.Equal(t, "synccopy of Matrices (1234)", variant.Name)
}

func TestPlaceholderBlocksSecondVariant(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Vectors", 42)
	seedID := base.DeployedSeeds[0].ID

	claim, err := h.ledger.Claim(ctx, base.ID, seedID)
	require.NoError(t, err)
	assert.False(t, claim.Resolved())

	result, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	assert.Empty(t, result.Created)

	direct, err := h.sync.Materialize(ctx, seedID, testActor)
	require.NoError(t, err)
	assert.True(t, direct.Skipped)

	_, err = h.ledger.Claim(ctx, base.ID, seedID)
	assert.ErrorIs(t, err, ErrSeedClaimed)

	purged, err := h.sync.PurgeDangling(ctx)
	require.NoError(t, err)
	assert.Empty(t, purged.OrphanedVariants)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, models.PlaceholderVariantID, rows[0].VariantQuestionID)
	assert.Equal(t, int64(1), h.countQuestions(t))
}

func TestMaterializeRejectsVariantSeed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	h.base(t, category.ID, "Vectors", 42)
	_, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)

	variant, err := h.bank.GetQuestion(ctx, h.ledgerRows(t)[0].VariantQuestionID)
	require.NoError(t, err)
	require.Len(t, variant.DeployedSeeds, 1)

	_, err = h.sync.Materialize(ctx, variant.DeployedSeeds[0].ID, testActor)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMaterializeUnknownSeed(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.sync.Materialize(context.Background(), 999, testActor)
	assert.ErrorIs(t, err, ErrSeedNotFound)
}

func TestCloneFailureReleasesClaim(t *testing.T) {
	h := newHarness(t, false)
	if h.db.Dialector.Name() != "sqlite" {
		t.Skip("trigger syntax is sqlite specific")
	}
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Vectors", 42)

	require.NoError(t, h.db.Exec(`CREATE TRIGGER reject_copies BEFORE INSERT ON questions
		WHEN NEW.name LIKE 'synccopy of %'
		BEGIN SELECT RAISE(ABORT, 'copies rejected'); END`).Error)

	_, err := h.sync.Materialize(ctx, base.DeployedSeeds[0].ID, testActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCloneFailed)
	assert.Empty(t, h.ledgerRows(t))
	assert.Equal(t, int64(1), h.countQuestions(t))

	result, err := h.sync.ReconcileMissing(ctx, testActor)
	require.Error(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, base.DeployedSeeds[0].ID, result.Failed[0].SeedID)

	require.NoError(t, h.db.Exec(`DROP TRIGGER reject_copies`).Error)
	result, err = h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
}

func TestMaterializeSchedulesTagCorrection(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Vectors", 42)

	_, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	ran, err := h.worker.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	entry := h.lineage(t, base.ID).QuestionBankEntryID
	assert.Equal(t, []string{crossReferenceName(entry)}, h.tagNames(t, base.ID))
}

func TestDeletingBaseRemovesAllVariants(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Probability", 1, 2, 3)
	other := h.base(t, category.ID, "Statistics", 5)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 4)
	var variants []uint
	for _, row := range rows {
		if row.QuestionID == base.ID {
			variants = append(variants, row.VariantQuestionID)
		}
	}
	require.Len(t, variants, 3)

	require.NoError(t, h.bank.DeleteQuestion(ctx, testActor, base.ID))

	for _, id := range variants {
		_, err := h.bank.GetQuestion(ctx, id)
		assert.ErrorIs(t, err, ErrQuestionNotFound)
	}
	rows = h.ledgerRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, other.ID, rows[0].QuestionID)

	// The user's own delete of a copy the cascade already removed.
	err := h.bank.DeleteQuestion(ctx, testActor, variants[0])
	assert.ErrorIs(t, err, ErrQuestionNotFound)
	assert.Len(t, h.ledgerRows(t), 1)
}

func TestDeletingVariantRemovesOnlyItsRow(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Probability", 1, 2)

	rows := h.ledgerRows(t)
	require.Len(t, rows, 2)
	victim := rows[0].VariantQuestionID
	survivor := rows[1].VariantQuestionID

	require.NoError(t, h.bank.DeleteQuestion(ctx, testActor, victim))

	rows = h.ledgerRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, survivor, rows[0].VariantQuestionID)
	_, err := h.bank.GetQuestion(ctx, base.ID)
	assert.NoError(t, err)
	_, err = h.bank.GetQuestion(ctx, survivor)
	assert.NoError(t, err)
}

func TestReconcileDeletedSkipsMissingVariants(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	category := h.category(t, "Default")
	base := h.base(t, category.ID, "Probability", 1, 2)
	_, err := h.sync.ReconcileMissing(ctx, testActor)
	require.NoError(t, err)
	rows := h.ledgerRows(t)
	require.Len(t, rows, 2)

	// Remove one copy behind the ledger's back.
	require.NoError(t, h.db.Delete(&models.Question{}, rows[0].VariantQuestionID).Error)

	result, err := h.sync.ReconcileDeleted(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{rows[1].VariantQuestionID}, result.DeletedVariantIDs)
	assert.Equal(t, int64(2), result.LedgerRowsRemoved)
	assert.Empty(t, h.ledgerRows(t))
}

func TestVersionLinkingAcrossBaseEdits(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	category := h.category(t, "Default")
	v1 := h.base(t, category.ID, "Chain rule", 42, 7)

	firstCopies := map[int64]uint{}
	for _, row := range h.ledgerRows(t) {
		seed, err := h.bank.GetSeed(ctx, row.SeedID)
		require.NoError(t, err)
		firstCopies[seed.Seed] = row.VariantQuestionID
	}
	require.Len(t, firstCopies, 2)

	v2, err := h.bank.UpdateQuestion(ctx, testActor, v1.ID, &UpdateQuestionRequest{Name: "Chain rule (revised)"})
	require.NoError(t, err)
	require.Equal(t, 2, h.lineage(t, v2.ID).Version)

	secondCopies := map[int64]uint{}
	entries, err := h.ledger.ByQuestion(ctx, v2.ID)
	require.NoError(t, err)
	for _, row := range entries {
		seed, err := h.bank.GetSeed(ctx, row.SeedID)
		require.NoError(t, err)
		secondCopies[seed.Seed] = row.VariantQuestionID
	}
	require.Len(t, secondCopies, 2)

	for _, seed := range []int64{42, 7} {
		older := h.lineage(t, firstCopies[seed])
		newer := h.lineage(t, secondCopies[seed])
		assert.Equal(t, older.QuestionBankEntryID, newer.QuestionBankEntryID, "seed %d", seed)
		assert.Equal(t, 1, older.Version)
		assert.Equal(t, 2, newer.Version)
	}
	assert.NotEqual(t,
		h.lineage(t, secondCopies[42]).QuestionBankEntryID,
		h.lineage(t, secondCopies[7]).QuestionBankEntryID)

	// A seed never deployed before starts its own lineage at the base's version.
	fresh, err := h.bank.DeploySeed(ctx, testActor, v2.ID, 99)
	require.NoError(t, err)
	entry, err := h.ledger.BySeed(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	freshLineage := h.lineage(t, entry.VariantQuestionID)
	assert.Equal(t, 2, freshLineage.Version)
	for _, id := range firstCopies {
		assert.NotEqual(t, h.lineage(t, id).QuestionBankEntryID, freshLineage.QuestionBankEntryID)
	}

	var orphaned int64
	require.NoError(t, h.db.Model(&models.QuestionBankEntry{}).
		Where("id NOT IN (?)", h.db.Model(&models.QuestionVersion{}).Select("question_bank_entry_id")).
		Count(&orphaned).Error)
	assert.Zero(t, orphaned)
}

func TestRewriteForSeed(t *testing.T) {
	doc := &qformat.Quiz{Questions: []qformat.Question{
		{
			Type:     qformat.TypeCategory,
			Category: &qformat.Text{Text: "$context$/top/Calculus"},
			IDNumber: "calc",
		},
		{
			Type:          "stack",
			Name:          &qformat.Text{Text: "Derivative"},
			IDNumber:      "deriv-1",
			DeployedSeeds: []string{"1", "42", "7"},
			Tags: &qformat.Tags{Tag: []qformat.Text{
				{Text: "algebra"}, {Text: "id12"}, {Text: "SyncCopy"}, {Text: "hard"},
			}},
		},
	}}

	rewriteForSeed(doc, 42, 31)

	category := doc.Questions[0]
	assert.Equal(t, "$context$/top/Calculus/synccopies", category.Category.Text)
	assert.Empty(t, category.IDNumber)

	item := doc.Questions[1]
	assert.Equal(t, "synccopy of Derivative (42)", item.Name.Text)
	assert.Empty(t, item.IDNumber)
	assert.Equal(t, []string{"42"}, item.DeployedSeeds)
	assert.Equal(t, []string{"synccopy", "id31", "algebra", "hard"}, item.TagNames())
}
