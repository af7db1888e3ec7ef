// Contact HTTP handlers.
//
// This file exposes the REST endpoints for contacts:
//   - GET    /contacts          (list or ranked search, weak ETag)
//   - GET    /contacts/{id}
//   - POST   /contacts          (create, Idempotency-Key aware)
//   - PUT    /contacts/{id}     (full replace)
//   - DELETE /contacts/{id}
//   - POST   /contacts/random   (fill the book from the generator)
//
// Handlers are transport-thin: they bind input, call the service and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-contacts/internal/domain"
	"github.com/tbourn/go-contacts/internal/http/middleware"
	"github.com/tbourn/go-contacts/internal/services"
	"github.com/tbourn/go-contacts/internal/utils"
)

//
// Service contract
//

// ContactService defines the contact operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ContactService interface {
	CreateIdempotent(ctx context.Context, key string, in *domain.Contact) (*domain.Contact, bool, error)
	List(ctx context.Context) ([]domain.Contact, error)
	Search(ctx context.Context, q string) ([]domain.Contact, error)
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Update(ctx context.Context, id string, in *domain.Contact) (*domain.Contact, error)
	Delete(ctx context.Context, id string) error
	CreateRandom(ctx context.Context, count int) ([]domain.Contact, error)
	// Stats returns the row count and latest update, used for list ETags.
	Stats(ctx context.Context) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups the contact endpoints.
type Handlers struct {
	svc ContactService
}

// New constructs Handlers bound to svc.
func New(svc ContactService) *Handlers {
	return &Handlers{svc: svc}
}

//
// DTOs
//

// ContactRequest is the JSON payload for creating or replacing a contact.
// Server-owned fields (id, timestamps) and the client-only pendingSync flag
// are not accepted.
type ContactRequest struct {
	Name       domain.Name     `json:"name"`
	Email      string          `json:"email" binding:"required" example:"jennie.nichols@example.com"`
	Phone      string          `json:"phone" example:"(272) 790-0888"`
	Cell       string          `json:"cell" example:"(489) 330-2385"`
	Location   domain.Location `json:"location"`
	Picture    domain.Picture  `json:"picture"`
	Dob        domain.DatedAge `json:"dob"`
	Registered domain.DatedAge `json:"registered"`
	IsFavorite bool            `json:"isFavorite"`
}

func (r ContactRequest) toContact() *domain.Contact {
	return &domain.Contact{
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		Cell:       r.Cell,
		Location:   r.Location,
		Picture:    r.Picture,
		Dob:        r.Dob,
		Registered: r.Registered,
		IsFavorite: r.IsFavorite,
	}
}

// RandomContactsRequest is the JSON payload for POST /contacts/random.
type RandomContactsRequest struct {
	// Count is the number of contacts to generate (1–100).
	Count int `json:"count" example:"10"`
}

// ContactResponse wraps a single contact.
type ContactResponse struct {
	Contact domain.Contact `json:"contact"`
	Message string         `json:"message,omitempty" example:"Contact created successfully"`
}

// ListContactsResponse wraps the contact collection.
type ListContactsResponse struct {
	Contacts []domain.Contact `json:"contacts"`
}

// RandomContactsResponse wraps a generated batch.
type RandomContactsResponse struct {
	Contacts []domain.Contact `json:"contacts"`
	Message  string           `json:"message" example:"10 random contacts added"`
}

// MessageResponse carries a bare confirmation.
type MessageResponse struct {
	Message string `json:"message" example:"Contact deleted successfully"`
}

const defaultRandomCount = 10

//
// Helpers
//

// failService maps service errors to HTTP responses. fallback is the code
// used for unexpected errors.
func failService(c *gin.Context, op string, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrInvalidContact):
		middleware.ObserveMutation(op, "invalid")
		fail(c, http.StatusBadRequest, ErrCodeInvalidContact, err.Error())
	case errors.Is(err, services.ErrInvalidCount):
		middleware.ObserveMutation(op, "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "count must be between 1 and 100")
	case errors.Is(err, services.ErrDuplicateEmail):
		middleware.ObserveMutation(op, "conflict")
		fail(c, http.StatusConflict, ErrCodeDuplicateEmail, services.ErrDuplicateEmail.Error())
	case errors.Is(err, services.ErrContactNotFound):
		middleware.ObserveMutation(op, "not_found")
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrContactNotFound.Error())
	case errors.Is(err, services.ErrGeneratorUnavailable):
		middleware.ObserveMutation(op, "error")
		fail(c, http.StatusBadGateway, ErrCodeUpstream, services.ErrGeneratorUnavailable.Error())
	default:
		middleware.ObserveMutation(op, "error")
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

func listETag(count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"contacts:%d:%d"`, count, ts)
}

//
// Handlers
//

// ListContacts godoc
// @ID          listContacts
// @Summary     List contacts
// @Description Returns every contact, or the contacts matching q ranked by relevance.
// @Description Unfiltered lists carry a weak ETag and honour If-None-Match.
// @Tags        Contacts
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"contacts:3:1718000000000000000\")
// @Param       q              query   string  false "Search terms (name, email, phone, location)"
//
// @Success     200  {object} handlers.ListContactsResponse
// @Header      200  {string} ETag  "Weak ETag for the unfiltered list"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts [get]
func (h *Handlers) ListContacts(c *gin.Context) {
	ctx := c.Request.Context()
	q := strings.TrimSpace(c.Query("q"))

	if q == "" {
		// ETag pre-check (best effort).
		if count, maxTS, err := h.svc.Stats(ctx); err == nil {
			etag := listETag(count, maxTS)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				notModified(c)
				return
			}
		}
	}

	var (
		items []domain.Contact
		err   error
	)
	if q == "" {
		items, err = h.svc.List(ctx)
	} else {
		items, err = h.svc.Search(ctx, q)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.Contact{}
	}
	ok(c, http.StatusOK, ListContactsResponse{Contacts: items})
}

// GetContact godoc
// @ID          getContact
// @Summary     Get a contact
// @Tags        Contacts
// @Produce     json
// @Param       id   path  string  true  "Contact ID"
// @Success     200  {object} handlers.ContactResponse
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/{id} [get]
func (h *Handlers) GetContact(c *gin.Context) {
	ct, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrContactNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrContactNotFound.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ContactResponse{Contact: *ct})
}

// CreateContact godoc
// @ID          createContact
// @Summary     Create a contact
// @Description Creates a contact. Supports idempotency via the Idempotency-Key header:
// @Description repeating a key returns the original contact with Idempotency-Replayed: true.
// @Tags        Contacts
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(op_2Nj9vJ8bQ3xk1ZcYtP0aLrW4mHs)
// @Param       body             body    handlers.ContactRequest  true  "Contact payload"
//
// @Success     201  {object}  handlers.ContactResponse
// @Header      201  {string}  Idempotency-Replayed  "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid contact"
// @Failure     409  {object}  handlers.ErrorResponse  "Email already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contacts [post]
func (h *Handlers) CreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.ObserveMutation("create", "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: email is required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	ct, replayed, err := h.svc.CreateIdempotent(c.Request.Context(), key, req.toContact())
	if err != nil {
		failService(c, "create", err, ErrCodeCreateFailed)
		return
	}
	if replayed {
		middleware.ObserveMutation("create", "replay")
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	} else {
		middleware.ObserveMutation("create", "ok")
	}
	ok(c, http.StatusCreated, ContactResponse{Contact: *ct, Message: "Contact created successfully"})
}

// UpdateContact godoc
// @ID          updateContact
// @Summary     Replace a contact
// @Description Replaces every mutable field of the contact.
// @Tags        Contacts
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Contact ID"
// @Param       body  body  handlers.ContactRequest  true  "Contact payload"
//
// @Success     200  {object} handlers.ContactResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid contact"
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     409  {object} handlers.ErrorResponse "Email already exists"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/{id} [put]
func (h *Handlers) UpdateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.ObserveMutation("update", "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: email is required")
		return
	}

	ct, err := h.svc.Update(c.Request.Context(), c.Param("id"), req.toContact())
	if err != nil {
		failService(c, "update", err, ErrCodeUpdateFailed)
		return
	}
	middleware.ObserveMutation("update", "ok")
	ok(c, http.StatusOK, ContactResponse{Contact: *ct, Message: "Contact updated successfully"})
}

// DeleteContact godoc
// @ID          deleteContact
// @Summary     Delete a contact
// @Tags        Contacts
// @Produce     json
// @Param       id   path  string  true  "Contact ID"
// @Success     200  {object} handlers.MessageResponse
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/{id} [delete]
func (h *Handlers) DeleteContact(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failService(c, "delete", err, ErrCodeDeleteFailed)
		return
	}
	middleware.ObserveMutation("delete", "ok")
	ok(c, http.StatusOK, MessageResponse{Message: "Contact deleted successfully"})
}

// CreateRandomContacts godoc
// @ID          createRandomContacts
// @Summary     Add generated contacts
// @Description Fetches count contacts from the random-user generator and stores them.
// @Description Generated contacts whose email is taken are skipped. count may also be
// @Description passed as a query parameter; it defaults to 10.
// @Tags        Contacts
// @Accept      json
// @Produce     json
//
// @Param       count  query  int  false  "Batch size"  minimum(1) maximum(100) default(10)
// @Param       body   body   handlers.RandomContactsRequest  false  "Batch size"
//
// @Success     201  {object} handlers.RandomContactsResponse
// @Failure     400  {object} handlers.ErrorResponse "Count out of range"
// @Failure     502  {object} handlers.ErrorResponse "Generator unavailable"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/random [post]
func (h *Handlers) CreateRandomContacts(c *gin.Context) {
	count := utils.AtoiDefault(c.Query("count"), defaultRandomCount)
	if c.Request.ContentLength != 0 {
		var req RandomContactsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
		count = req.Count
	}

	items, err := h.svc.CreateRandom(c.Request.Context(), count)
	if err != nil {
		failService(c, "random", err, ErrCodeCreateFailed)
		return
	}
	middleware.ObserveMutation("random", "ok")
	ok(c, http.StatusCreated, RandomContactsResponse{
		Contacts: items,
		Message:  fmt.Sprintf("%d random contacts added", len(items)),
	})
}
