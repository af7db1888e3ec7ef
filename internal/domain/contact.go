// Package domain defines the persistence models shared by the contacts
// server and the offline client. Contact is mapped with GORM on the server
// side and serialized as JSON on the wire and in the client's local store.
package domain

import "time"

// Name holds a contact's given and family names.
type Name struct {
	First string `json:"first" gorm:"type:varchar(100);not null;default:''"`
	Last  string `json:"last"  gorm:"type:varchar(100);not null;default:''"`
}

// Street is the street part of a Location.
type Street struct {
	Number int    `json:"number" gorm:"not null;default:0"`
	Name   string `json:"name"   gorm:"type:varchar(255);not null;default:''"`
}

// Location is a postal address. Postcode is kept as a string because
// generated and user-entered postcodes mix digits and letters.
type Location struct {
	Street   Street `json:"street"   gorm:"embedded;embeddedPrefix:street_"`
	City     string `json:"city"     gorm:"type:varchar(100);not null;default:''"`
	State    string `json:"state"    gorm:"type:varchar(100);not null;default:''"`
	Country  string `json:"country"  gorm:"type:varchar(100);not null;default:''"`
	Postcode string `json:"postcode" gorm:"type:varchar(32);not null;default:''"`
}

// Picture holds the three renditions of a contact's avatar.
type Picture struct {
	Large     string `json:"large"     gorm:"type:text;not null;default:''"`
	Medium    string `json:"medium"    gorm:"type:text;not null;default:''"`
	Thumbnail string `json:"thumbnail" gorm:"type:text;not null;default:''"`
}

// IsEmpty reports whether no rendition is set.
func (p Picture) IsEmpty() bool {
	return p.Large == "" && p.Medium == "" && p.Thumbnail == ""
}

// Has reports whether url equals any of the three renditions.
func (p Picture) Has(url string) bool {
	return url != "" && (p.Large == url || p.Medium == url || p.Thumbnail == url)
}

// SinglePicture returns a Picture using url for every rendition.
func SinglePicture(url string) Picture {
	return Picture{Large: url, Medium: url, Thumbnail: url}
}

// DatedAge pairs an RFC 3339 date with the age in years it implies.
type DatedAge struct {
	Date string `json:"date" gorm:"type:varchar(40);not null;default:''"`
	Age  int    `json:"age"  gorm:"not null;default:0"`
}

// Contact is the primary entity of the address book.
//
// Fields:
//   - ID: server-assigned UUID, or a "local_" prefixed id for contacts
//     created while the client was offline.
//   - Email: unique across the collection (enforced by the server only).
//   - IsFavorite: persisted both locally and remotely.
//   - PendingSync: local-only marker for snapshots holding unconfirmed
//     edits. Never stored by the server and never trusted from it.
//   - CreatedAt / UpdatedAt: server timestamps, used for list ETags.
//
// Absent nested fields decode to their zero values.
type Contact struct {
	ID         string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name       Name      `json:"name"       gorm:"embedded;embeddedPrefix:name_"`
	Email      string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_contacts_email"`
	Phone      string    `json:"phone"      gorm:"type:varchar(64);not null;default:''"`
	Cell       string    `json:"cell"       gorm:"type:varchar(64);not null;default:''"`
	Location   Location  `json:"location"   gorm:"embedded;embeddedPrefix:location_"`
	Picture    Picture   `json:"picture"    gorm:"embedded;embeddedPrefix:picture_"`
	Dob        DatedAge  `json:"dob"        gorm:"embedded;embeddedPrefix:dob_"`
	Registered DatedAge  `json:"registered" gorm:"embedded;embeddedPrefix:registered_"`
	IsFavorite bool      `json:"isFavorite" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"  gorm:"index"`

	PendingSync bool `json:"pendingSync,omitempty" gorm:"-"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// FullName joins first and last name with a single space.
func (c Contact) FullName() string {
	switch {
	case c.Name.First == "":
		return c.Name.Last
	case c.Name.Last == "":
		return c.Name.First
	}
	return c.Name.First + " " + c.Name.Last
}

// AgeAt returns the number of whole years between the RFC 3339 date and now.
// Unparseable or empty dates yield 0.
func AgeAt(date string, now time.Time) int {
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return 0
	}
	years := now.Year() - t.Year()
	if now.YearDay() < t.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
