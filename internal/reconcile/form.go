package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/go-contacts/internal/domain"
)

// Form is the user-editable part of a contact. Picture is a single URL used
// for all three renditions. IsFavorite only applies on create; updates keep
// the stored flag and ToggleFavorite changes it.
type Form struct {
	Name       domain.Name
	Email      string
	Phone      string
	Cell       string
	Location   domain.Location
	Picture    string
	Dob        string // RFC 3339
	IsFavorite bool
}

// FormFrom pre-fills a Form with c, for edit flows that change a few fields.
func FormFrom(c domain.Contact) Form {
	return Form{
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		Cell:       c.Cell,
		Location:   c.Location,
		Picture:    c.Picture.Large,
		Dob:        c.Dob.Date,
		IsFavorite: c.IsFavorite,
	}
}

func (f Form) normalized() Form {
	f.Name.First = strings.TrimSpace(f.Name.First)
	f.Name.Last = strings.TrimSpace(f.Name.Last)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Phone = strings.TrimSpace(f.Phone)
	f.Cell = strings.TrimSpace(f.Cell)
	f.Picture = strings.TrimSpace(f.Picture)
	f.Dob = strings.TrimSpace(f.Dob)
	return f
}

// check mirrors the store's own validation so offline-created contacts do
// not sit in the queue only to be rejected on replay.
func (e *Engine) check(f Form) error {
	if f.Name.First == "" && f.Name.Last == "" {
		return fmt.Errorf("%w: first or last name is required", ErrInvalidContact)
	}
	if err := e.validate.Var(f.Email, "required,email"); err != nil {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidContact)
	}
	if f.Picture != "" {
		if err := e.validate.Var(f.Picture, "url"); err != nil {
			return fmt.Errorf("%w: picture must be a URL", ErrInvalidContact)
		}
	}
	if f.Dob != "" {
		if _, err := time.Parse(time.RFC3339, f.Dob); err != nil {
			return fmt.Errorf("%w: date of birth must be RFC 3339", ErrInvalidContact)
		}
	}
	return nil
}

// build turns a create form into a contact. registered.date is stamped with
// now.
func (e *Engine) build(f Form) domain.Contact {
	now := e.now().UTC()
	c := domain.Contact{
		Name:       f.Name,
		Email:      f.Email,
		Phone:      f.Phone,
		Cell:       f.Cell,
		Location:   f.Location,
		Dob:        domain.DatedAge{Date: f.Dob, Age: domain.AgeAt(f.Dob, now)},
		Registered: domain.DatedAge{Date: now.Format(time.RFC3339)},
		IsFavorite: f.IsFavorite,
	}
	if f.Picture != "" {
		c.Picture = domain.SinglePicture(f.Picture)
	}
	return c
}

// merge applies an edit form to the stored contact. The id, registration
// and favorite flag are kept. The picture is kept when the form leaves it
// empty or names one of the existing renditions; any other URL replaces all
// three.
func (e *Engine) merge(existing domain.Contact, f Form) domain.Contact {
	out := existing
	out.Name = f.Name
	out.Email = f.Email
	out.Phone = f.Phone
	out.Cell = f.Cell
	out.Location = f.Location
	out.Dob = domain.DatedAge{Date: f.Dob, Age: domain.AgeAt(f.Dob, e.now().UTC())}
	if f.Picture != "" && !existing.Picture.Has(f.Picture) {
		out.Picture = domain.SinglePicture(f.Picture)
	}
	return out
}
