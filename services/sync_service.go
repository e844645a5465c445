package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"qbanksync/logger"
	"qbanksync/models"
	"qbanksync/qformat"
)

const (
	copyCategorySuffix = "synccopies"
	copyNamePrefix     = "synccopy of "
)

// SyncService keeps one variant copy per deployed seed of every base question.
type SyncService struct {
	bank      *QuestionBankService
	exchange  *ExchangeService
	tags      *TagService
	ledger    *LedgerService
	linker    *VersionLinker
	corrector *TagCorrector
	publisher Publisher
	// systemActor deletes cascaded copies.
	systemActor uint
	log         *logger.Logger
}

type SyncServiceDeps struct {
	Bank        *QuestionBankService
	Exchange    *ExchangeService
	Tags        *TagService
	Ledger      *LedgerService
	Linker      *VersionLinker
	Corrector   *TagCorrector
	Publisher   Publisher
	SystemActor uint
}

func NewSyncService(deps SyncServiceDeps, log *logger.Logger) *SyncService {
	return &SyncService{
		bank:        deps.Bank,
		exchange:    deps.Exchange,
		tags:        deps.Tags,
		ledger:      deps.Ledger,
		linker:      deps.Linker,
		corrector:   deps.Corrector,
		publisher:   deps.Publisher,
		systemActor: deps.SystemActor,
		log:         log.With("service", "SyncService"),
	}
}

type MaterializeResult struct {
	LedgerID          uint  `json:"ledger_id"`
	BaseQuestionID    uint  `json:"base_question_id"`
	SeedID            uint  `json:"seed_id"`
	Seed              int64 `json:"seed"`
	VariantQuestionID uint  `json:"variant_question_id"`
	ContextID         uint  `json:"context_id"`
	// Skipped is set when the seed was already covered or claimed.
	Skipped bool `json:"skipped"`
}

func (r MaterializeResult) EventContextID() uint { return r.ContextID }

type SeedFailure struct {
	SeedID uint   `json:"seed_id"`
	Error  string `json:"error"`
}

type ReconcileResult struct {
	Created []MaterializeResult `json:"created"`
	Skipped []uint              `json:"skipped"`
	Failed  []SeedFailure       `json:"failed"`
}

type DeleteResult struct {
	BaseQuestionID    uint   `json:"base_question_id"`
	DeletedVariantIDs []uint `json:"deleted_variant_ids"`
	LedgerRowsRemoved int64  `json:"ledger_rows_removed"`
}

type PurgeResult struct {
	Bases             []DeleteResult `json:"bases"`
	OrphanedVariants  []uint         `json:"orphaned_variants"`
	LedgerRowsRemoved int64          `json:"ledger_rows_removed"`
}

// ReconcileMissing materializes a copy for every deployed seed that has none.
// Seeds of variant copies are never considered. A failing seed is recorded
// and the pass moves on; the returned error then wraps the first failure.
func (s *SyncService) ReconcileMissing(ctx context.Context, actorID uint) (*ReconcileResult, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	seedIDs, err := s.ledger.MissingSeedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan missing seeds: %w", err)
	}

	result := &ReconcileResult{}
	var firstErr error
	for _, seedID := range seedIDs {
		res, err := s.Materialize(ctx, seedID, actorID)
		switch {
		case err != nil:
			s.log.Error("Failed to materialize variant copy", "seed_id", seedID, "error", err)
			result.Failed = append(result.Failed, SeedFailure{SeedID: seedID, Error: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
		case res.Skipped:
			result.Skipped = append(result.Skipped, seedID)
		default:
			result.Created = append(result.Created, *res)
		}
	}

	if len(result.Created) > 0 || len(result.Failed) > 0 {
		s.log.Info("Reconciliation finished",
			"created", len(result.Created),
			"skipped", len(result.Skipped),
			"failed", len(result.Failed),
		)
		s.publish(SyncEventReconciled, result)
	}
	if firstErr != nil {
		return result, fmt.Errorf("%d of %d seeds failed: %w", len(result.Failed), len(seedIDs), firstErr)
	}
	return result, nil
}

// Materialize clones the base question of a seed into a variant copy pinned
// to that seed. The ledger slot is claimed before the import because the
// import announces the new question and re-enters ReconcileMissing.
func (s *SyncService) Materialize(ctx context.Context, seedID, actorID uint) (*MaterializeResult, error) {
	existing, err := s.ledger.BySeed(ctx, seedID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		copiesTotal.WithLabelValues("skipped").Inc()
		return &MaterializeResult{
			LedgerID:          existing.ID,
			BaseQuestionID:    existing.QuestionID,
			SeedID:            seedID,
			VariantQuestionID: existing.VariantQuestionID,
			Skipped:           true,
		}, nil
	}

	seed, err := s.bank.GetSeed(ctx, seedID)
	if err != nil {
		return nil, err
	}
	base, err := s.bank.GetQuestion(ctx, seed.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("base question of seed %d: %w", seedID, err)
	}
	if err := s.ensureNotCopy(ctx, base.ID); err != nil {
		return nil, err
	}
	version, err := s.bank.VersionOf(ctx, base.ID)
	if err != nil {
		return nil, fmt.Errorf("version of question %d: %w", base.ID, err)
	}

	doc, err := s.exchange.Export(ctx, base.ID)
	if err != nil {
		copiesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: export question %d: %w", ErrCloneFailed, base.ID, err)
	}
	rewriteForSeed(doc, seed.Seed, version.QuestionBankEntryID)

	result := &MaterializeResult{
		BaseQuestionID: base.ID,
		SeedID:         seedID,
		Seed:           seed.Seed,
		ContextID:      base.Category.ContextID,
	}

	claim, err := s.ledger.Claim(ctx, base.ID, seedID)
	if errors.Is(err, ErrSeedClaimed) {
		copiesTotal.WithLabelValues("skipped").Inc()
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim seed %d: %w", seedID, err)
	}
	result.LedgerID = claim.ID

	imported, err := s.exchange.Import(withMaterializing(ctx), &ImportRequest{
		CategoryID:       base.CategoryID,
		ActorID:          actorID,
		CategoryFromFile: true,
		Document:         doc,
	})
	if err != nil && !errors.Is(err, ErrObserverFailed) {
		if releaseErr := s.ledger.Release(ctx, claim.ID); releaseErr != nil {
			s.log.Error("Failed to release ledger claim", "ledger_id", claim.ID, "error", releaseErr)
		}
		copiesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: import copy of question %d for seed %d: %w", ErrCloneFailed, base.ID, seed.Seed, err)
	}
	if err != nil {
		s.log.Warn("Observers failed while importing variant copy", "seed_id", seedID, "error", err)
	}
	result.VariantQuestionID = imported.QuestionIDs[0]

	if err := s.ledger.Commit(ctx, claim.ID, result.VariantQuestionID); err != nil {
		return result, fmt.Errorf("commit ledger entry %d: %w", claim.ID, err)
	}

	if _, err := s.linker.Link(ctx, LinkRequest{
		BaseQuestionID:    base.ID,
		VariantQuestionID: result.VariantQuestionID,
		Version:           version.Version,
		Seed:              seed.Seed,
	}); err != nil {
		return result, fmt.Errorf("link variant %d: %w", result.VariantQuestionID, err)
	}

	if s.corrector != nil {
		if _, err := s.corrector.Schedule(ctx, TagCorrection{
			QuestionID:          base.ID,
			QuestionBankEntryID: version.QuestionBankEntryID,
			ContextID:           base.Category.ContextID,
		}); err != nil {
			s.log.Warn("Failed to schedule tag correction", "question_id", base.ID, "error", err)
		}
	}

	copiesTotal.WithLabelValues("created").Inc()
	s.log.Info("Variant copy created",
		"base_question_id", base.ID,
		"seed", seed.Seed,
		"variant_question_id", result.VariantQuestionID,
	)
	s.publish(SyncEventCopyCreated, result)
	return result, nil
}

func (s *SyncService) ensureNotCopy(ctx context.Context, questionID uint) error {
	itemTags, err := s.tags.ItemTags(ctx, nil, questionID)
	if err != nil {
		return err
	}
	for _, t := range itemTags {
		if t.Name == SyncCopyTag {
			return fmt.Errorf("%w: question %d is a variant copy", ErrInvalidRequest, questionID)
		}
	}
	return nil
}

// rewriteForSeed turns an exported base question into its copy for one seed.
func rewriteForSeed(doc *qformat.Quiz, seed int64, baseBankEntryID uint) {
	seedText := strconv.FormatInt(seed, 10)
	for i := range doc.Questions {
		item := &doc.Questions[i]
		if item.IsCategory() {
			if item.Category != nil {
				item.Category.Text = strings.TrimSuffix(item.Category.Text, "/") + "/" + copyCategorySuffix
			}
			item.IDNumber = ""
			continue
		}

		name := ""
		if item.Name != nil {
			name = item.Name.Text
		}
		item.Name = &qformat.Text{Text: fmt.Sprintf("%s%s (%s)", copyNamePrefix, name, seedText)}
		item.IDNumber = ""
		item.DeployedSeeds = []string{seedText}

		tags := []string{SyncCopyTag, crossReferenceName(baseBankEntryID)}
		for _, tag := range item.TagNames() {
			if strings.EqualFold(tag, SyncCopyTag) || crossReferenceTag.MatchString(tag) {
				continue
			}
			tags = append(tags, tag)
		}
		item.SetTagNames(tags)
	}
}

// ReconcileDeleted removes the copies of a base question that is gone, then
// its ledger rows. Copies that are already gone are skipped.
func (s *SyncService) ReconcileDeleted(ctx context.Context, baseQuestionID uint) (*DeleteResult, error) {
	variantIDs, err := s.ledger.VariantIDs(ctx, baseQuestionID)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{BaseQuestionID: baseQuestionID}
	cascadeCtx := withCascade(ctx)
	for _, variantID := range variantIDs {
		err := s.bank.DeleteQuestion(cascadeCtx, s.systemActor, variantID)
		switch {
		case errors.Is(err, ErrQuestionNotFound):
			s.log.Debug("Variant copy already deleted", "variant_question_id", variantID)
			continue
		case errors.Is(err, ErrObserverFailed):
			s.log.Warn("Observers failed while deleting variant copy", "variant_question_id", variantID, "error", err)
		case err != nil:
			return result, fmt.Errorf("delete variant %d: %w", variantID, err)
		}
		result.DeletedVariantIDs = append(result.DeletedVariantIDs, variantID)
		copiesTotal.WithLabelValues("deleted").Inc()
	}

	removed, err := s.ledger.DeleteByQuestion(ctx, baseQuestionID)
	if err != nil {
		return result, err
	}
	result.LedgerRowsRemoved = removed
	ledgerPurged.Add(float64(removed))

	s.log.Info("Variant copies of deleted question removed",
		"base_question_id", baseQuestionID,
		"variants", len(result.DeletedVariantIDs),
		"ledger_rows", removed,
	)
	s.publish(SyncEventCopyDeleted, result)
	return result, nil
}

// PurgeDangling cleans up after deleted questions: bases that vanished lose
// their copies and rows, copies that vanished lose only their own row.
// Unresolved claims are left alone.
func (s *SyncService) PurgeDangling(ctx context.Context) (*PurgeResult, error) {
	result := &PurgeResult{}
	if inCascade(ctx) {
		return result, nil
	}

	bases, err := s.ledger.DanglingBaseQuestionIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, baseID := range bases {
		deleted, err := s.ReconcileDeleted(ctx, baseID)
		if deleted != nil {
			result.Bases = append(result.Bases, *deleted)
			result.LedgerRowsRemoved += deleted.LedgerRowsRemoved
		}
		if err != nil {
			return result, err
		}
	}

	variants, err := s.ledger.DanglingVariantQuestionIDs(ctx)
	if err != nil {
		return result, err
	}
	for _, variantID := range variants {
		removed, err := s.ledger.DeleteByVariant(ctx, variantID)
		if err != nil {
			return result, err
		}
		result.OrphanedVariants = append(result.OrphanedVariants, variantID)
		result.LedgerRowsRemoved += removed
		ledgerPurged.Add(float64(removed))
	}

	if len(result.OrphanedVariants) > 0 {
		s.log.Info("Ledger rows of deleted variant copies removed", "variants", result.OrphanedVariants)
		s.publish(SyncEventLedgerPurged, result)
	}
	return result, nil
}

func (s *SyncService) Ledger(ctx context.Context, baseQuestionID uint) ([]models.SyncCopy, error) {
	if baseQuestionID != 0 {
		return s.ledger.ByQuestion(ctx, baseQuestionID)
	}
	return s.ledger.All(ctx)
}

func (s *SyncService) publish(eventType string, payload interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(eventType, payload)
	}
}

type cascadeKey struct{}

// withCascade marks deletes issued by ReconcileDeleted so the deleted
// observer does not start another purge while one is running.
func withCascade(ctx context.Context) context.Context {
	return context.WithValue(ctx, cascadeKey{}, true)
}

func inCascade(ctx context.Context) bool {
	v, _ := ctx.Value(cascadeKey{}).(bool)
	return v
}

type materializingKey struct{}

// withMaterializing marks the import of a variant copy. The created observer
// leaves the remaining seeds to the pass that is already running.
func withMaterializing(ctx context.Context) context.Context {
	return context.WithValue(ctx, materializingKey{}, true)
}

func inMaterializing(ctx context.Context) bool {
	v, _ := ctx.Value(materializingKey{}).(bool)
	return v
}
