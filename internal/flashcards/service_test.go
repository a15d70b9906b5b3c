package flashcards_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
	"github.com/MarcoPoloResearchLab/cardloom/internal/storage/memstore"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const testUserID = "user-1"

func newTestService(t *testing.T) (*flashcards.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	start := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	service, err := flashcards.NewService(flashcards.ServiceConfig{
		Repository: store,
		Clock: func() time.Time {
			tick++
			return start.Add(time.Duration(tick) * time.Second)
		},
	})
	require.NoError(t, err)
	return service, store
}

func serviceCode(t *testing.T, err error) string {
	t.Helper()
	var serviceErr *flashcards.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	return serviceErr.Code()
}

func seedGeneration(t *testing.T, store *memstore.Store, userID string, generated int) int64 {
	t.Helper()
	generation := generations.Generation{UserID: userID, Model: "test/model", GeneratedCount: generated}
	require.NoError(t, store.CreateGeneration(context.Background(), &generation))
	return generation.ID
}

func TestCreateTrimsAndMarksManual(t *testing.T) {
	service, _ := newTestService(t)

	card, err := service.Create(context.Background(), testUserID, flashcards.CreateInput{Front: "  What is Go?  ", Back: " A language "})
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", card.Front)
	assert.Equal(t, "A language", card.Back)
	assert.Equal(t, flashcards.SourceManual, card.Source)
	assert.Nil(t, card.GenerationID)
	assert.Positive(t, card.ID)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Create(context.Background(), testUserID, flashcards.CreateInput{Front: "   ", Back: strings.Repeat("b", 501)})
	validationErr, ok := validation.AsError(err)
	require.True(t, ok)
	require.Len(t, validationErr.Issues, 2)
	assert.Equal(t, "front", validationErr.Issues[0].Field)
	assert.Equal(t, "back", validationErr.Issues[1].Field)
}

func TestUpdateMarksAIFullCardsAsEdited(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	generationID := seedGeneration(t, store, testUserID, 2)

	created, err := service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{
		GenerationID: generationID,
		Flashcards:   []flashcards.BatchCard{{Front: "Q", Back: "A"}},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, flashcards.SourceAIFull, created[0].Source)

	unchanged := "Q"
	card, err := service.Update(ctx, testUserID, created[0].ID, flashcards.UpdateInput{Front: &unchanged})
	require.NoError(t, err)
	assert.Equal(t, flashcards.SourceAIFull, card.Source, "identical text keeps the source")

	changed := "A, revised"
	card, err = service.Update(ctx, testUserID, created[0].ID, flashcards.UpdateInput{Back: &changed})
	require.NoError(t, err)
	assert.Equal(t, flashcards.SourceAIEdited, card.Source)
	assert.Equal(t, "A, revised", card.Back)
	assert.True(t, card.UpdatedAt.After(card.CreatedAt))
}

func TestUpdateRequiresAField(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Update(context.Background(), testUserID, 1, flashcards.UpdateInput{})
	_, ok := validation.AsError(err)
	assert.True(t, ok)
}

func TestUpdateAndDeleteAreScopedToOwner(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	card, err := service.Create(ctx, testUserID, flashcards.CreateInput{Front: "Q", Back: "A"})
	require.NoError(t, err)

	front := "stolen"
	_, err = service.Update(ctx, "intruder", card.ID, flashcards.UpdateInput{Front: &front})
	assert.Equal(t, "flashcards.update.not_found", serviceCode(t, err))
	assert.ErrorIs(t, err, flashcards.ErrNotFound)

	err = service.Delete(ctx, "intruder", card.ID)
	assert.Equal(t, "flashcards.delete.not_found", serviceCode(t, err))

	require.NoError(t, service.Delete(ctx, testUserID, card.ID))
	err = service.Delete(ctx, testUserID, card.ID)
	assert.ErrorIs(t, err, flashcards.ErrNotFound)
}

func TestListFiltersAndPaginates(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	for _, front := range []string{"banana", "Apple", "cherry"} {
		_, err := service.Create(ctx, testUserID, flashcards.CreateInput{Front: front, Back: "fruit"})
		require.NoError(t, err)
	}
	_, err := service.Create(ctx, "someone-else", flashcards.CreateInput{Front: "apple", Back: "fruit"})
	require.NoError(t, err)
	generationID := seedGeneration(t, store, testUserID, 1)
	_, err = service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{
		GenerationID: generationID,
		Flashcards:   []flashcards.BatchCard{{Front: "date", Back: "palm fruit", Edited: true}},
	})
	require.NoError(t, err)

	result, err := service.List(ctx, flashcards.ListRequest{UserID: testUserID, Sort: "front", Order: "asc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "Apple", result.Data[0].Front)
	assert.Equal(t, "banana", result.Data[1].Front)
	assert.Equal(t, int64(4), result.Pagination.Total)
	assert.Equal(t, 2, result.Pagination.TotalPages)

	result, err = service.List(ctx, flashcards.ListRequest{UserID: testUserID, Source: "ai-edited"})
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "date", result.Data[0].Front)

	result, err = service.List(ctx, flashcards.ListRequest{UserID: testUserID, Search: "PALM"})
	require.NoError(t, err)
	assert.Len(t, result.Data, 1)

	result, err = service.List(ctx, flashcards.ListRequest{UserID: testUserID, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, result.Data)
	assert.NotNil(t, result.Data)
}

func TestAcceptBatchCountsEditedProposals(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	generationID := seedGeneration(t, store, testUserID, 5)

	created, err := service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{
		GenerationID: generationID,
		Flashcards: []flashcards.BatchCard{
			{Front: "Q1", Back: "A1"},
			{Front: "Q2", Back: "A2", Edited: true},
			{Front: "Q3", Back: "A3"},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, card := range created {
		require.NotNil(t, card.GenerationID)
		assert.Equal(t, generationID, *card.GenerationID)
	}
	assert.Equal(t, flashcards.SourceAIEdited, created[1].Source)

	generation, ok := store.Generation(generationID)
	require.True(t, ok)
	assert.Equal(t, 2, generation.AcceptedUneditedCount)
	assert.Equal(t, 1, generation.AcceptedEditedCount)
}

func TestAcceptBatchFailures(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	single := []flashcards.BatchCard{{Front: "Q", Back: "A"}}

	_, err := service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{GenerationID: 404, Flashcards: single})
	assert.Equal(t, "flashcards.accept_batch.generation_not_found", serviceCode(t, err))

	foreign := seedGeneration(t, store, "someone-else", 3)
	_, err = service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{GenerationID: foreign, Flashcards: single})
	assert.ErrorIs(t, err, flashcards.ErrGenerationNotFound)

	small := seedGeneration(t, store, testUserID, 1)
	_, err = service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{
		GenerationID: small,
		Flashcards:   []flashcards.BatchCard{{Front: "Q1", Back: "A1"}, {Front: "Q2", Back: "A2"}},
	})
	assert.Equal(t, "flashcards.accept_batch.too_many_accepted", serviceCode(t, err))

	_, err = service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{GenerationID: small, Flashcards: single})
	require.NoError(t, err)
	_, err = service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{GenerationID: small, Flashcards: single})
	assert.Equal(t, "flashcards.accept_batch.already_curated", serviceCode(t, err))

	_, err = service.AcceptBatch(ctx, testUserID, flashcards.BatchInput{GenerationID: small})
	_, ok := validation.AsError(err)
	assert.True(t, ok)
}

func TestStudyDeckLimitsAndScopes(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	for index := 0; index < 5; index++ {
		_, err := service.Create(ctx, testUserID, flashcards.CreateInput{Front: "Q", Back: "A"})
		require.NoError(t, err)
	}
	_, err := service.Create(ctx, "someone-else", flashcards.CreateInput{Front: "Q", Back: "A"})
	require.NoError(t, err)

	deck, err := service.StudyDeck(ctx, testUserID, 3)
	require.NoError(t, err)
	assert.Len(t, deck, 3)

	deck, err = service.StudyDeck(ctx, testUserID, 0)
	require.NoError(t, err)
	assert.Len(t, deck, 5)

	deck, err = service.StudyDeck(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, deck)
	assert.Empty(t, deck)
}
