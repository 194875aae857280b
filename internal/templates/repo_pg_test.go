package templates

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGRepoGetByIDValidatesStoredTemplate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	cols := []string{"id", "firm_id", "name", "is_default", "sections"}

	stored, err := json.Marshal(Default())
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	mock.ExpectQuery("SELECT (.+) FROM status_cert_templates").
		WithArgs("tpl-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("tpl-1", nil, "Precedent", true, stored))

	rec, err := repo.GetByID(context.Background(), "tpl-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(rec.Template.Sections) != len(Default().Sections) {
		t.Fatalf("expected decoded sections, got %d", len(rec.Template.Sections))
	}
}

func TestPGRepoGetByIDRejectsInvalidTemplate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	cols := []string{"id", "firm_id", "name", "is_default", "sections"}

	// Missing required title and an empty section list.
	mock.ExpectQuery("SELECT (.+) FROM status_cert_templates").
		WithArgs("tpl-bad").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("tpl-bad", nil, "Broken", false, []byte(`{"sections": []}`)))

	_, err = repo.GetByID(context.Background(), "tpl-bad")
	if err == nil {
		t.Fatalf("expected schema validation to reject the stored row")
	}
	if !strings.Contains(err.Error(), "tpl-bad") {
		t.Fatalf("expected error to name the template, got %v", err)
	}
}
