package domain

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (Contact{}).TableName() != "contacts" {
		t.Fatalf("Contact.TableName() = %q; want %q", (Contact{}).TableName(), "contacts")
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q; want %q", (Idempotency{}).TableName(), "idempotency")
	}
}

func TestMigrations_EmbeddedColumns_AndUniqueEmail(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Contact{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, col := range []string{
		"name_first", "name_last", "location_street_number", "location_street_name",
		"location_postcode", "picture_large", "picture_thumbnail", "dob_date", "registered_age", "is_favorite",
	} {
		if !m.HasColumn(&Contact{}, col) {
			t.Fatalf("expected column %q on contacts", col)
		}
	}
	if m.HasColumn(&Contact{}, "pending_sync") {
		t.Fatalf("pending_sync must not be persisted")
	}
	if !m.HasIndex(&Contact{}, "ux_contacts_email") {
		t.Fatalf("expected unique index ux_contacts_email")
	}
	if !m.HasIndex(&Idempotency{}, "ux_idempotency_key") {
		t.Fatalf("expected unique index ux_idempotency_key")
	}

	a := Contact{ID: "a", Email: "x@example.com", Name: Name{First: "A"}}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("insert a: %v", err)
	}
	b := Contact{ID: "b", Email: "x@example.com", Name: Name{First: "B"}}
	if err := db.Create(&b).Error; err == nil {
		t.Fatalf("expected unique violation on duplicate email")
	}

	var got Contact
	if err := db.First(&got, "id = ?", "a").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name.First != "A" || got.PendingSync {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestContact_JSONDefaultsForMissingNestedFields(t *testing.T) {
	var c Contact
	if err := json.Unmarshal([]byte(`{"id":"x","email":"a@b.com","name":{"first":"A"}}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Name.Last != "" || c.Location.Street.Number != 0 || !c.Picture.IsEmpty() || c.IsFavorite {
		t.Fatalf("unexpected non-zero defaults: %+v", c)
	}

	out, err := json.Marshal(Contact{ID: "y"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(out, &m)
	if _, ok := m["pendingSync"]; ok {
		t.Fatalf("pendingSync=false should be omitted, got %s", out)
	}
	if _, ok := m["isFavorite"]; !ok {
		t.Fatalf("isFavorite must always be present, got %s", out)
	}
}

func TestPictureHelpers(t *testing.T) {
	p := Picture{Large: "l", Medium: "m", Thumbnail: "t"}
	if p.IsEmpty() || !(Picture{}).IsEmpty() {
		t.Fatalf("IsEmpty wrong")
	}
	if !p.Has("m") || p.Has("x") || p.Has("") {
		t.Fatalf("Has wrong")
	}
	if s := SinglePicture("u"); s.Large != "u" || s.Medium != "u" || s.Thumbnail != "u" {
		t.Fatalf("SinglePicture = %+v", s)
	}
}

func TestFullNameAndAge(t *testing.T) {
	cases := map[string]Contact{
		"Ada Lovelace": {Name: Name{First: "Ada", Last: "Lovelace"}},
		"Ada":          {Name: Name{First: "Ada"}},
		"Lovelace":     {Name: Name{Last: "Lovelace"}},
		"":             {},
	}
	for want, c := range cases {
		if got := c.FullName(); got != want {
			t.Fatalf("FullName(%+v) = %q; want %q", c.Name, got, want)
		}
	}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := AgeAt("1990-01-15T00:00:00Z", now); got != 35 {
		t.Fatalf("AgeAt = %d; want 35", got)
	}
	if got := AgeAt("1990-12-15T00:00:00Z", now); got != 34 {
		t.Fatalf("AgeAt before birthday = %d; want 34", got)
	}
	if got := AgeAt("garbage", now); got != 0 {
		t.Fatalf("AgeAt(garbage) = %d; want 0", got)
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range []Operation{OperationCreate, OperationUpdate, OperationDelete} {
		if !op.Valid() {
			t.Fatalf("%s should be valid", op)
		}
	}
	if Operation("PATCH").Valid() {
		t.Fatalf("PATCH should be invalid")
	}
}
