package content

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/dixie/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUnlinkedReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		if err := s.AddReference(ctx, models.Reference{ItemType: "book", Identifier: fmt.Sprintf("isbn-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.CountUnlinkedReferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}

	// A suggestion for a reference removes it from the unlinked set.
	if _, err := s.AddSuggestion(ctx, models.AcquisitionSuggestion{ItemType: "book", Identifier: "isbn-1"}); err != nil {
		t.Fatal(err)
	}
	refs, err := s.UnlinkedReferences(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 unlinked, got %d", len(refs))
	}
}

func TestAddSuggestionAlwaysPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sg, err := s.AddSuggestion(ctx, models.AcquisitionSuggestion{
		ItemType: "book", Identifier: "isbn-9", Status: models.StatusApproved, DecidedBy: "task",
	})
	if err != nil {
		t.Fatal(err)
	}
	if sg.Status != models.StatusPending || sg.DecidedBy != "" {
		t.Errorf("expected pending undecided suggestion, got %+v", sg)
	}

	list, _ := s.Suggestions(ctx, models.StatusPending)
	if len(list) != 1 {
		t.Errorf("expected 1 pending suggestion, got %d", len(list))
	}
}

func TestDecideSuggestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sg, _ := s.AddSuggestion(ctx, models.AcquisitionSuggestion{ItemType: "paper", Identifier: "doi:1"})

	if err := s.DecideSuggestion(ctx, sg.ID, models.StatusPending, "alice"); err == nil {
		t.Error("expected error deciding back to pending")
	}
	if err := s.DecideSuggestion(ctx, sg.ID, models.StatusApproved, ""); err == nil {
		t.Error("expected error without decided_by")
	}
	if err := s.DecideSuggestion(ctx, sg.ID, models.StatusApproved, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.DecideSuggestion(ctx, sg.ID, models.StatusDeclined, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for decided suggestion, got %v", err)
	}

	list, _ := s.Suggestions(ctx, models.StatusApproved)
	if len(list) != 1 || list[0].DecidedBy != "alice" || list[0].DecidedAt == nil {
		t.Errorf("unexpected approved list: %+v", list)
	}
}

func TestPurgeDeclined(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-60 * 24 * time.Hour)
	s.now = func() time.Time { return old }

	a, _ := s.AddSuggestion(ctx, models.AcquisitionSuggestion{ItemType: "book", Identifier: "a"})
	b, _ := s.AddSuggestion(ctx, models.AcquisitionSuggestion{ItemType: "book", Identifier: "b"})
	_ = s.DecideSuggestion(ctx, a.ID, models.StatusDeclined, "bob")
	_ = s.DecideSuggestion(ctx, b.ID, models.StatusApproved, "bob")

	n, err := s.PurgeDeclined(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	all, _ := s.Suggestions(ctx, "")
	if len(all) != 1 || all[0].ID != b.ID {
		t.Errorf("unexpected remaining suggestions: %+v", all)
	}
}

func TestUnanalyzedPapers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.AddPaper(ctx, models.Paper{ID: "p1", Title: "One"})
	_ = s.AddPaper(ctx, models.Paper{ID: "p2", Title: "Two"})

	art, err := s.AddArtifact(ctx, models.AnalysisArtifact{Subject: "p1", Kind: "summary", Body: "..."})
	if err != nil {
		t.Fatal(err)
	}
	if art.Status != models.StatusPending {
		t.Errorf("expected pending artifact, got %s", art.Status)
	}

	papers, err := s.UnanalyzedPapers(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 1 || papers[0].ID != "p2" {
		t.Errorf("unexpected papers: %+v", papers)
	}
}
