package mpath

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

type unitCategory struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Slug     string
	ParentID *uuid.UUID
	Parent   *unitCategory
	Path     Path
}

func (unitCategory) TreeConfig() Config { return Config{SourceColumn: "slug"} }

type unitDoc struct {
	ID       uint `gorm:"primaryKey"`
	ParentID *uint
	Path     string
}

func (unitDoc) TreeConfig() Config { return Config{} }

type unitPlain struct {
	ID uint `gorm:"primaryKey"`
}

type unitNoPath struct {
	ID       uint `gorm:"primaryKey"`
	ParentID *uint
}

func (unitNoPath) TreeConfig() Config { return Config{} }

func TestResolveSettingsSlugSource(t *testing.T) {
	db := openTestDB(t)
	s, err := resolveSettings(db, &unitCategory{})
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if s.key.DBName != "id" || s.path.DBName != "path" || s.parent.DBName != "parent_id" || s.source.DBName != "slug" {
		t.Fatalf("columns: key=%s path=%s parent=%s source=%s",
			s.key.DBName, s.path.DBName, s.parent.DBName, s.source.DBName)
	}
	if s.postAssign {
		t.Fatalf("slug source must assign before insert")
	}
	if s.parentRef != "Parent" {
		t.Fatalf("parentRef: %q", s.parentRef)
	}

	// settings are cached per model type, slices and pointers included
	again, err := resolveSettings(db, []*unitCategory{})
	if err != nil || again != s {
		t.Fatalf("settings not cached: %p %p %v", again, s, err)
	}
}

func TestResolveSettingsIdentitySource(t *testing.T) {
	db := openTestDB(t)
	s, err := resolveSettings(db, &unitDoc{})
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if !s.postAssign {
		t.Fatalf("auto-generated identity source must assign after insert")
	}
	if s.source != s.key {
		t.Fatalf("default source should be the primary key")
	}
	if s.parentRef != "" {
		t.Fatalf("parentRef without association field: %q", s.parentRef)
	}
}

func TestResolveSettingsRejects(t *testing.T) {
	db := openTestDB(t)
	if _, err := resolveSettings(db, &unitPlain{}); !errors.Is(err, errNotTreeModel) {
		t.Fatalf("plain model: %v", err)
	}
	if _, err := resolveSettings(db, 42); err == nil {
		t.Fatalf("non-struct model accepted")
	}
	if _, err := resolveSettings(db, &unitNoPath{}); !IsCode(err, CodeInternal) {
		t.Fatalf("missing path column: %v", err)
	}
}

func TestPathFieldAccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s, err := resolveSettings(db, &unitCategory{})
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	c := &unitCategory{ID: uuid.New(), Slug: "n"}
	rv := reflect.ValueOf(c).Elem()
	if p, err := s.pathOf(ctx, rv); err != nil || !p.IsZero() {
		t.Fatalf("unset path: %v %v", p, err)
	}
	if err := s.setPath(ctx, rv, mustPath(t, "a.n")); err != nil {
		t.Fatalf("setPath: %v", err)
	}
	if c.Path.String() != "a.n" {
		t.Fatalf("path field: %q", c.Path.String())
	}
	if p, err := s.pathOf(ctx, rv); err != nil || p.String() != "a.n" {
		t.Fatalf("pathOf after set: %v %v", p, err)
	}
	if _, ok := s.pathColumnValue(mustPath(t, "x")).(Path); !ok {
		t.Fatalf("Path column must persist as Path")
	}

	// string-kind path fields behave the same
	ds, err := resolveSettings(db, &unitDoc{})
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	d := &unitDoc{ID: 7}
	drv := reflect.ValueOf(d).Elem()
	if err := ds.setPath(ctx, drv, mustPath(t, "7")); err != nil {
		t.Fatalf("setPath string: %v", err)
	}
	if d.Path != "7" {
		t.Fatalf("string path field: %q", d.Path)
	}
	if p, err := ds.pathOf(ctx, drv); err != nil || p.String() != "7" {
		t.Fatalf("pathOf string: %v %v", p, err)
	}
	if v, ok := ds.pathColumnValue(mustPath(t, "7.9")).(string); !ok || v != "7.9" {
		t.Fatalf("string column value: %v", v)
	}
}

func TestSourceAndKeyAccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s, err := resolveSettings(db, &unitCategory{})
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	id, parent := uuid.New(), uuid.New()
	c := &unitCategory{ID: id, Slug: "s1", ParentID: &parent}
	rv := reflect.ValueOf(c).Elem()

	if src := s.sourceOf(ctx, rv); src != "s1" {
		t.Fatalf("sourceOf: %q", src)
	}
	k, ok := s.keyOf(ctx, rv)
	if !ok {
		t.Fatalf("keyOf: unset")
	}
	if str, _ := normalizeKey(k); str != id.String() {
		t.Fatalf("keyOf: %v", k)
	}
	pk, ok := s.parentKeyOf(ctx, rv)
	if !ok {
		t.Fatalf("parentKeyOf: unset")
	}
	if str, _ := normalizeKey(pk); str != parent.String() {
		t.Fatalf("parentKeyOf: %v", pk)
	}

	root := &unitCategory{ID: uuid.New(), Slug: "r"}
	if _, ok := s.parentKeyOf(ctx, reflect.ValueOf(root).Elem()); ok {
		t.Fatalf("nil parent reported as set")
	}
	if _, ok := s.keyOf(ctx, reflect.ValueOf(&unitCategory{Slug: "k"}).Elem()); ok {
		t.Fatalf("zero key reported as set")
	}
}

func TestNormalizeKey(t *testing.T) {
	id := uuid.New()
	n := 42
	cases := []struct {
		in   interface{}
		want string
		ok   bool
	}{
		{nil, "", false},
		{(*uuid.UUID)(nil), "", false},
		{id, id.String(), true},
		{&id, id.String(), true},
		{"key", "key", true},
		{"", "", false},
		{[]byte("bk"), "bk", true},
		{[]byte{}, "", false},
		{42, "42", true},
		{&n, "42", true},
	}
	for _, tc := range cases {
		got, ok := normalizeKey(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("normalizeKey(%v) = %q %v, want %q %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
