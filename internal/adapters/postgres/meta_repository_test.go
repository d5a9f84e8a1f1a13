package postgres

import (
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestMetaRepositorySetUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &MetaRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectExec("INSERT INTO aria_meta").
		WithArgs("schema", "embedding_dimensions", "384", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := repo.Set(ctx, "schema", "embedding_dimensions", "384"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMetaRepositoryGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &MetaRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectQuery("SELECT value").
		WithArgs("schema", "embedding_dimensions").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("384"))

	ctx := setupMockContext(mock)
	got, err := repo.Get(ctx, "schema", "embedding_dimensions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "384" {
		t.Errorf("expected 384, got %q", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMetaRepositoryGetMissingKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &MetaRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectQuery("SELECT value").
		WithArgs("schema", "never_set").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	ctx := setupMockContext(mock)
	got, err := repo.Get(ctx, "schema", "never_set")
	if err != nil {
		t.Fatalf("a missing key must not error, got %v", err)
	}
	if got != "" {
		t.Errorf("expected empty value, got %q", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
