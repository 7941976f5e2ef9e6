package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/mpath"
)

// Category is the slug-sourced fixture: path segments come from a caller
// chosen column, so paths exist before the insert. Slugs stay within the
// postgres label charset (letters, digits, underscore).
type Category struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Slug      string     `gorm:"size:64;not null;uniqueIndex"`
	Name      string     `gorm:"size:255"`
	ParentID  *uuid.UUID `gorm:"type:uuid;index"`
	Parent    *Category  `gorm:"foreignKey:ParentID"`
	Path      mpath.Path `gorm:"index"`
	Meta      datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Category) TreeConfig() mpath.Config {
	return mpath.Config{SourceColumn: "slug"}
}

// Folder is the identity-sourced fixture: segments are the auto-generated
// integer key, so paths can only be written after the insert.
type Folder struct {
	ID        uint       `gorm:"primaryKey"`
	Name      string     `gorm:"size:255"`
	ParentID  *uint      `gorm:"index"`
	Path      mpath.Path `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Folder) TreeConfig() mpath.Config {
	return mpath.Config{}
}

func CreateCategory(tb testing.TB, db *gorm.DB, slug string, parent *Category) *Category {
	tb.Helper()
	c := &Category{
		ID:   uuid.New(),
		Slug: slug,
		Name: slug,
		Meta: datatypes.JSON(fmt.Sprintf(`{"label": %q}`, slug)),
	}
	if parent != nil {
		c.ParentID = PtrUUID(parent.ID)
	}
	if err := db.Create(c).Error; err != nil {
		tb.Fatalf("create category %s: %v", slug, err)
	}
	return c
}

func CreateFolder(tb testing.TB, db *gorm.DB, name string, parent *Folder) *Folder {
	tb.Helper()
	f := &Folder{Name: name}
	if parent != nil {
		f.ParentID = PtrUint(parent.ID)
	}
	if err := db.Create(f).Error; err != nil {
		tb.Fatalf("create folder %s: %v", name, err)
	}
	return f
}

func PtrUUID(u uuid.UUID) *uuid.UUID { return &u }

func PtrUint(u uint) *uint { return &u }
