package services

import (
	"context"
	"testing"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/testutil"
)

func TestCreateBrand(t *testing.T) {
	store := testutil.NewStore()
	svc := NewBrandService(store.Manager(), nopLogger)
	ctx := context.Background()
	owner := store.AddUser("owner@acme.test")

	view, err := svc.Create(ctx, owner, BrandInput{
		Name:        "  Acme Rockets ",
		Competitors: []string{"Globex", " globex ", "", "Initech"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if view.Name != "Acme Rockets" || view.Slug != "acme-rockets" || view.Role != models.RoleOwner {
		t.Errorf("brand = %q slug %q role %s", view.Name, view.Slug, view.Role)
	}
	if len(view.Competitors) != 2 {
		t.Errorf("competitors = %v, want deduplicated", view.Competitors)
	}

	second, err := svc.Create(ctx, owner, BrandInput{Name: "Acme Rockets"})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.Slug != "acme-rockets-2" {
		t.Errorf("slug = %s, want numeric suffix", second.Slug)
	}

	list, err := svc.List(ctx, owner)
	if err != nil || len(list) != 2 {
		t.Fatalf("List = %d, %v", len(list), err)
	}

	if _, err := svc.Create(ctx, owner, BrandInput{Name: "Weekly", AutoAnalysis: true}); !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Errorf("auto analysis without weekday err = %v", err)
	}
}

func TestUpdateBrandPermissions(t *testing.T) {
	store := testutil.NewStore()
	svc := NewBrandService(store.Manager(), nopLogger)
	ctx := context.Background()

	owner := store.AddUser("owner@acme.test")
	brand := store.AddBrand(owner, "Acme")
	admin := store.AddUser("admin@acme.test")
	viewer := store.AddUser("viewer@acme.test")
	store.AddMember(brand, admin, models.RoleAdmin)
	store.AddMember(brand, viewer, models.RoleViewer)

	industry := "Aerospace"
	weekday := 4
	enabled := true
	updated, err := svc.Update(ctx, admin, brand.ID, BrandPatch{Industry: &industry, AutoAnalysis: &enabled, AnalysisWeekday: &weekday})
	if err != nil {
		t.Fatalf("admin Update: %v", err)
	}
	if updated.Industry != "Aerospace" || !updated.AutoAnalysis || *updated.AnalysisWeekday != 4 {
		t.Errorf("updated = %+v", updated.Brand)
	}
	if updated.Name != "Acme" {
		t.Error("unset fields must be preserved")
	}

	if _, err := svc.Update(ctx, viewer, brand.ID, BrandPatch{Industry: &industry}); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("viewer update err = %v, want forbidden", err)
	}

	got, err := svc.Get(ctx, viewer, brand.ID)
	if err != nil || got.Role != models.RoleViewer {
		t.Errorf("viewer Get = %v, %v", got, err)
	}

	if err := svc.Delete(ctx, admin, brand.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("admin delete err = %v, want forbidden", err)
	}
}

func TestDeleteBrand(t *testing.T) {
	store := testutil.NewStore()
	svc := NewBrandService(store.Manager(), nopLogger)
	ctx := context.Background()

	owner := store.AddUser("owner@acme.test")
	brand := store.AddBrand(owner, "Acme")
	viewer := store.AddUser("viewer@acme.test")
	store.AddMember(brand, viewer, models.RoleViewer)

	active := &models.Analysis{BrandID: brand.ID, RequestedBy: owner.ID, Status: models.AnalysisRunning}
	if err := store.Manager().Analyses.Create(ctx, active); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
	if err := svc.Delete(ctx, owner, brand.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("delete with running analysis err = %v, want conflict", err)
	}

	store.Analyses[active.ID].Status = models.AnalysisCompleted
	if err := svc.Delete(ctx, owner, brand.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, owner, brand.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("get after delete err = %v, want not found", err)
	}
	if list, _ := svc.List(ctx, viewer); len(list) != 0 {
		t.Errorf("viewer still sees %d brands", len(list))
	}
}
