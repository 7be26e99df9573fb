package model

import (
	"math"
	"strings"
	"time"
)

// Contact is the data structure for a person in the directory.
// PhotoFileName and PhotoPath are either both set or both nil.
type Contact struct {
	Id            int64     `json:"id"            db:"id"`
	FirstName     string    `json:"firstName"     db:"firstname"`
	LastName      string    `json:"lastName"      db:"lastname"`
	Email         string    `json:"email"         db:"email"`
	Phone         string    `json:"phone"         db:"phone"`
	Company       string    `json:"company"       db:"company"`
	JobTitle      string    `json:"jobTitle"      db:"job_title"`
	Address       string    `json:"address"       db:"address"`
	City          string    `json:"city"          db:"city"`
	State         string    `json:"state"         db:"state"`
	ZipCode       string    `json:"zipCode"       db:"zip_code"`
	Country       string    `json:"country"       db:"country"`
	Notes         string    `json:"notes"         db:"notes"`
	PhotoFileName *string   `json:"photoFileName" db:"photo_file_name"`
	PhotoPath     *string   `json:"photoPath"     db:"photo_path"`
	CreatedAt     time.Time `json:"createdAt"     db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt"     db:"updated_at"`
}

// FullName returns first and last name separated by a space.
func (c *Contact) FullName() string {
	return c.FirstName + " " + c.LastName
}

// HasPhoto reports whether the contact references a stored photo.
func (c *Contact) HasPhoto() bool {
	return c.PhotoPath != nil
}

// ContactInput holds the values a caller may set on a contact. Identity, audit and photo fields are
// owned by the store and the service and cannot be set through it.
type ContactInput struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"  validate:"required"`
	Email     string `json:"email"     validate:"required,email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	JobTitle  string `json:"jobTitle"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
	Notes     string `json:"notes"`
}

// Normalize trims surrounding whitespace from the identifying fields.
func (in ContactInput) Normalize() ContactInput {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	return in
}

// Photo references a file held by the photo store.
type Photo struct {
	Name string
	Path string
}

// PhotoUpload is a photo as received from a client.
type PhotoUpload struct {
	Filename string
	Data     []byte
}

// Empty reports whether there is nothing to store.
func (p *PhotoUpload) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// Page is one slice of an ordered result set together with the size of the whole set.
type Page[T any] struct {
	Items         []T `json:"items"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
	Page          int `json:"page"`
	Size          int `json:"size"`
}

// NewPage assembles a page and derives the number of pages from total and size.
func NewPage[T any](items []T, total, page, size int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = total / size
		if total%size != 0 {
			totalPages++
		}
	}
	return Page[T]{
		Items:         items,
		TotalElements: total,
		TotalPages:    totalPages,
		Page:          page,
		Size:          size,
	}
}

// Offset returns the index of the first item of a page. It reports false when the index does not
// fit into an int, which places the page past the end of any result set.
func Offset(page, size int) (int, bool) {
	if size > 0 && page > math.MaxInt/size {
		return 0, false
	}
	return page * size, true
}
