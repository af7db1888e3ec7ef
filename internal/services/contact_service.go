// Package services – ContactService
//
// This file implements the ContactService, which owns the lifecycle of
// contacts on the server. It validates and normalizes incoming contacts,
// maps repository failures (unique email, missing row) to service errors,
// supports idempotent creation keyed by a client-supplied key, ranks search
// results and fills the book with generated contacts.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the contact id or batch size as attributes.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-contacts/internal/domain"
	"github.com/tbourn/go-contacts/internal/randomuser"
	"github.com/tbourn/go-contacts/internal/repo"
	"github.com/tbourn/go-contacts/internal/search"
)

// ContactRepo defines the repository contract required by ContactService.
type ContactRepo interface {
	// CreateContact inserts a new row and assigns its id and timestamps.
	CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) (*domain.Contact, error)

	// ListContacts returns the full collection.
	ListContacts(ctx context.Context, db *gorm.DB) ([]domain.Contact, error)

	// GetContact fetches a contact by id.
	GetContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error)

	// UpdateContact replaces the mutable columns of a contact.
	UpdateContact(ctx context.Context, db *gorm.DB, id string, c *domain.Contact) (*domain.Contact, error)

	// DeleteContact removes a contact.
	DeleteContact(ctx context.Context, db *gorm.DB, id string) error
}

// ContactService provides contact CRUD with validation and normalization.
type ContactService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the contact repository used by this service.
	Repo ContactRepo
	// Generator supplies contacts for CreateRandom. Nil disables it.
	Generator randomuser.Generator

	// MaxRandom caps the size of a generated batch.
	MaxRandom int
	// IdempotencyTTL is how long an Idempotency-Key keeps replaying.
	IdempotencyTTL time.Duration
	// NameLocale drives title-casing of names.
	NameLocale language.Tag

	validate *validator.Validate
	now      func() time.Time
}

// NewContactService constructs a ContactService with defaults: batches of at
// most 100, a 24h idempotency window and locale-neutral casing.
func NewContactService(db *gorm.DB, r ContactRepo, gen randomuser.Generator) *ContactService {
	return &ContactService{
		DB:             db,
		Repo:           r,
		Generator:      gen,
		MaxRandom:      100,
		IdempotencyTTL: 24 * time.Hour,
		NameLocale:     language.Und,
		validate:       validator.New(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// contactRules mirrors the fields of a contact that carry constraints.
type contactRules struct {
	First      string `validate:"required_without=Last,max=100"`
	Last       string `validate:"max=100"`
	Email      string `validate:"required,email,max=255"`
	Phone      string `validate:"max=64"`
	Cell       string `validate:"max=64"`
	Postcode   string `validate:"max=32"`
	Large      string `validate:"omitempty,url"`
	Medium     string `validate:"omitempty,url"`
	Thumbnail  string `validate:"omitempty,url"`
	Dob        string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Registered string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Create validates and stores a new contact.
func (s *ContactService) Create(ctx context.Context, in *domain.Contact) (*domain.Contact, error) {
	ctx, span := s.tracer().Start(ctx, "Create")
	defer span.End()

	c, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	out, err := s.Repo.CreateContact(ctx, s.DB, c)
	if err != nil {
		return nil, recordErr(span, mapRepoErr(err))
	}
	span.SetAttributes(attribute.String("contact.id", out.ID))
	return out, nil
}

// CreateIdempotent behaves like Create when key is blank. Otherwise the first
// call with key creates the contact and remembers it; later calls within
// IdempotencyTTL return that contact with replayed=true instead of failing on
// the duplicate email. A remembered contact that was deleted since is created
// again.
func (s *ContactService) CreateIdempotent(ctx context.Context, key string, in *domain.Contact) (c *domain.Contact, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		c, err = s.Create(ctx, in)
		return c, false, err
	}

	ctx, span := s.tracer().Start(ctx, "CreateIdempotent",
		trace.WithAttributes(attribute.String("idempotency.key", key)),
	)
	defer span.End()

	if prev, ok, err := s.replay(ctx, key); err != nil || ok {
		return prev, ok, err
	}

	row, err := s.prepare(in)
	if err != nil {
		return nil, false, err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.Repo.CreateContact(ctx, tx, row)
		if err != nil {
			return err
		}
		if _, err := repo.CreateIdempotency(ctx, tx, key, created.ID, http.StatusCreated, s.IdempotencyTTL); err != nil {
			return err
		}
		c = created
		return nil
	})
	if err == nil {
		return c, false, nil
	}
	// A concurrent request with the same key won the race.
	if errors.Is(err, repo.ErrDuplicate) {
		if prev, ok, rerr := s.replay(ctx, key); rerr == nil && ok {
			return prev, true, nil
		}
	}
	return nil, false, recordErr(span, mapRepoErr(err))
}

// replay resolves a remembered key to its contact.
func (s *ContactService) replay(ctx context.Context, key string) (*domain.Contact, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, key, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c, err := s.Repo.GetContact(ctx, s.DB, rec.ContactID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, repo.DeleteIdempotency(ctx, s.DB, key)
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// List returns every contact.
func (s *ContactService) List(ctx context.Context) ([]domain.Contact, error) {
	ctx, span := s.tracer().Start(ctx, "List")
	defer span.End()
	return s.Repo.ListContacts(ctx, s.DB)
}

// Search returns the contacts matching q, best match first. A blank query
// returns the full list.
func (s *ContactService) Search(ctx context.Context, q string) ([]domain.Contact, error) {
	ctx, span := s.tracer().Start(ctx, "Search",
		trace.WithAttributes(attribute.String("query", q)),
	)
	defer span.End()

	all, err := s.Repo.ListContacts(ctx, s.DB)
	if err != nil || strings.TrimSpace(q) == "" {
		return all, err
	}
	byID := make(map[string]domain.Contact, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	hits := search.NewContactIndex(all).TopK(q, 0)
	out := make([]domain.Contact, 0, len(hits))
	for _, h := range hits {
		out = append(out, byID[h.ID])
	}
	span.SetAttributes(attribute.Int("hits", len(out)))
	return out, nil
}

// Get fetches one contact.
func (s *ContactService) Get(ctx context.Context, id string) (*domain.Contact, error) {
	ctx, span := s.tracer().Start(ctx, "Get",
		trace.WithAttributes(attribute.String("contact.id", id)),
	)
	defer span.End()

	c, err := s.Repo.GetContact(ctx, s.DB, id)
	if err != nil {
		return nil, recordErr(span, mapRepoErr(err))
	}
	return c, nil
}

// Update validates in and replaces the stored contact identified by id.
func (s *ContactService) Update(ctx context.Context, id string, in *domain.Contact) (*domain.Contact, error) {
	ctx, span := s.tracer().Start(ctx, "Update",
		trace.WithAttributes(attribute.String("contact.id", id)),
	)
	defer span.End()

	c, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	out, err := s.Repo.UpdateContact(ctx, s.DB, id, c)
	if err != nil {
		return nil, recordErr(span, mapRepoErr(err))
	}
	return out, nil
}

// Delete removes the contact identified by id.
func (s *ContactService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("contact.id", id)),
	)
	defer span.End()

	if err := s.Repo.DeleteContact(ctx, s.DB, id); err != nil {
		return recordErr(span, mapRepoErr(err))
	}
	return nil
}

// CreateRandom fetches count generated contacts and stores each of them.
// Generated contacts whose email is already taken or that fail validation
// are skipped; the stored ones are returned in generation order.
func (s *ContactService) CreateRandom(ctx context.Context, count int) ([]domain.Contact, error) {
	ctx, span := s.tracer().Start(ctx, "CreateRandom",
		trace.WithAttributes(attribute.Int("count", count)),
	)
	defer span.End()

	if count < 1 || (s.MaxRandom > 0 && count > s.MaxRandom) {
		return nil, ErrInvalidCount
	}
	if s.Generator == nil {
		return nil, ErrGeneratorUnavailable
	}
	gen, err := s.Generator.Generate(ctx, count)
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err))
	}

	out := make([]domain.Contact, 0, len(gen))
	for i := range gen {
		c, err := s.Create(ctx, &gen[i])
		switch {
		case err == nil:
			out = append(out, *c)
		case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrInvalidContact):
			continue
		default:
			return out, recordErr(span, err)
		}
	}
	span.SetAttributes(attribute.Int("created", len(out)))
	return out, nil
}

// Stats reports the row count and latest update time for list ETags.
func (s *ContactService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.ContactsStats(ctx, s.DB)
}

// prepare normalizes a copy of in and validates it.
func (s *ContactService) prepare(in *domain.Contact) (*domain.Contact, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidContact)
	}
	c := *in
	s.normalize(&c)

	err := s.validator().Struct(contactRules{
		First:      c.Name.First,
		Last:       c.Name.Last,
		Email:      c.Email,
		Phone:      c.Phone,
		Cell:       c.Cell,
		Postcode:   c.Location.Postcode,
		Large:      c.Picture.Large,
		Medium:     c.Picture.Medium,
		Thumbnail:  c.Picture.Thumbnail,
		Dob:        c.Dob.Date,
		Registered: c.Registered.Date,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContact, describe(err))
	}
	return &c, nil
}

// normalize trims every string field, title-cases names and places,
// lower-cases the email, stamps the registration date and derives ages.
func (s *ContactService) normalize(c *domain.Contact) {
	title := cases.Title(s.NameLocale, cases.NoLower)
	clean := func(v string) string { return whitespaceRE.ReplaceAllString(strings.TrimSpace(v), " ") }

	c.Name.First = title.String(clean(c.Name.First))
	c.Name.Last = title.String(clean(c.Name.Last))
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = clean(c.Phone)
	c.Cell = clean(c.Cell)
	c.Location.Street.Name = clean(c.Location.Street.Name)
	c.Location.City = title.String(clean(c.Location.City))
	c.Location.State = title.String(clean(c.Location.State))
	c.Location.Country = title.String(clean(c.Location.Country))
	c.Location.Postcode = clean(c.Location.Postcode)
	c.Picture.Large = strings.TrimSpace(c.Picture.Large)
	c.Picture.Medium = strings.TrimSpace(c.Picture.Medium)
	c.Picture.Thumbnail = strings.TrimSpace(c.Picture.Thumbnail)
	c.Dob.Date = strings.TrimSpace(c.Dob.Date)
	c.Registered.Date = strings.TrimSpace(c.Registered.Date)
	c.PendingSync = false

	now := s.clock()
	if c.Registered.Date == "" {
		c.Registered.Date = now.Format(time.RFC3339)
	}
	if c.Dob.Date != "" && c.Dob.Age == 0 {
		c.Dob.Age = domain.AgeAt(c.Dob.Date, now)
	}
	if c.Registered.Age == 0 {
		c.Registered.Age = domain.AgeAt(c.Registered.Date, now)
	}
}

func (s *ContactService) validator() *validator.Validate {
	if s.validate == nil {
		s.validate = validator.New()
	}
	return s.validate
}

func (s *ContactService) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}

func (s *ContactService) tracer() trace.Tracer {
	return otel.Tracer("services/ContactService")
}

// mapRepoErr translates repository errors into service errors.
func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrContactNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return ErrDuplicateEmail
	}
	return err
}

func recordErr(span trace.Span, err error) error {
	if errors.Is(err, ErrContactNotFound) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// describe renders validator errors as "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "required_without":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, "email is not a valid address")
		case "url":
			parts = append(parts, field+" picture must be a URL")
		case "datetime":
			parts = append(parts, field+" date must be RFC 3339")
		default:
			parts = append(parts, fmt.Sprintf("%s exceeds %s characters", field, fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
