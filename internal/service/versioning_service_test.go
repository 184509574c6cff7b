package service

import (
	"errors"
	"fmt"
	"testing"

	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"

	"gorm.io/gorm"
)

type fakeDefinitionSource struct {
	defs map[uint]*model.ContentDefinition
}

func (f *fakeDefinitionSource) FindByIDWithItems(id uint) (*model.ContentDefinition, error) {
	def, ok := f.defs[id]
	if !ok {
		return nil, util.ErrSourceNotFound
	}
	return def, nil
}

type fakeUnitStore struct {
	units   []*model.ContentUnit
	created int
}

func (f *fakeUnitStore) FindByAssignmentAndSource(_ *gorm.DB, assignmentID uint, sourceDefinitionID uint) (*model.ContentUnit, error) {
	for _, u := range f.units {
		if u.AssignmentID == assignmentID && u.SourceDefinitionID == sourceDefinitionID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUnitStore) Create(_ *gorm.DB, unit *model.ContentUnit) error {
	f.created++
	unit.ID = fmt.Sprintf("unit-%d", f.created)
	f.units = append(f.units, unit)
	return nil
}

func greetingsDefinition() *model.ContentDefinition {
	def := &model.ContentDefinition{
		Title:        "Everyday Greetings",
		Language:     "en",
		VersionLabel: "v1",
		Items: []model.ContentDefinitionItem{
			{Order: 1, Text: "Good morning!", Translation: "早上好！"},
			{Order: 2, Text: "How are you today?", Translation: "你今天怎么样？"},
		},
	}
	def.ID = 10
	return def
}

func TestMaterialize_CopiesDefinition(t *testing.T) {
	store := &fakeUnitStore{}
	svc := NewVersioningService(&fakeDefinitionSource{defs: map[uint]*model.ContentDefinition{10: greetingsDefinition()}}, store)

	unit, err := svc.Materialize(nil, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit.AssignmentID != 5 || unit.SourceDefinitionID != 10 || unit.SourceVersionLabel != "v1" {
		t.Fatalf("unit provenance wrong: %+v", unit)
	}
	if len(unit.Items) != 2 || unit.Items[0].Text != "Good morning!" {
		t.Fatalf("items not copied: %+v", unit.Items)
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	store := &fakeUnitStore{}
	svc := NewVersioningService(&fakeDefinitionSource{defs: map[uint]*model.ContentDefinition{10: greetingsDefinition()}}, store)

	first, err := svc.Materialize(nil, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Materialize(nil, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("repeat call produced a new copy: %s vs %s", second.ID, first.ID)
	}
	if store.created != 1 {
		t.Fatalf("expected a single create, got %d", store.created)
	}

	// 另一份作业实例要有自己的副本
	other, err := svc.Materialize(nil, 6, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different assignments must not share a working copy")
	}
}

func TestMaterialize_SnapshotIsolation(t *testing.T) {
	def := greetingsDefinition()
	store := &fakeUnitStore{}
	svc := NewVersioningService(&fakeDefinitionSource{defs: map[uint]*model.ContentDefinition{10: def}}, store)

	unit, err := svc.Materialize(nil, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 派发后编辑素材，已物化的副本必须保持原样
	def.Items[0].Text = "Good evening!"
	def.VersionLabel = "v2"

	if unit.Items[0].Text != "Good morning!" {
		t.Fatalf("working copy leaked source edit: %q", unit.Items[0].Text)
	}
	if unit.SourceVersionLabel != "v1" {
		t.Fatalf("version label mutated: %q", unit.SourceVersionLabel)
	}
}

func TestMaterialize_SourceDeleted(t *testing.T) {
	svc := NewVersioningService(&fakeDefinitionSource{defs: map[uint]*model.ContentDefinition{}}, &fakeUnitStore{})

	_, err := svc.Materialize(nil, 5, 42)
	if !errors.Is(err, util.ErrSourceNotFound) {
		t.Fatalf("got %v, want ErrSourceNotFound", err)
	}
}
