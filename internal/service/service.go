package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

// ContactStore is the durable storage of contact records. Implementations return an error
// matching model.ErrNotFound for unknown ids and are responsible for per-record atomicity.
type ContactStore interface {
	Get(ctx context.Context, id int64) (*model.Contact, error)
	Insert(ctx context.Context, c model.Contact) (*model.Contact, error)
	Update(ctx context.Context, id int64, c model.Contact) (*model.Contact, error)
	Delete(ctx context.Context, id int64) error
	ListOrdered(ctx context.Context, page, size int) (model.Page[model.Contact], error)
	SearchSubstring(ctx context.Context, term string, page, size int) (model.Page[model.Contact], error)
}

// PhotoStore keeps the photo files referenced by contacts.
type PhotoStore interface {
	Save(originalName string, data []byte) (storedName, storedPath string, err error)
	Delete(path string) error
}

// Directory implements the contact operations on top of a contact store and a photo store. It
// keeps no mutable state of its own; concurrent writes to one contact are serialized by the store.
//
// A request cancelled between saving a photo and writing the record can leave an unreferenced
// photo file behind. Records never reference a missing file.
type Directory struct {
	store  ContactStore
	photos PhotoStore
	log    *slog.Logger
	now    func() time.Time // microsecond precision, as kept by the contacts table
}

// NewDirectory creates a Directory.
func NewDirectory(log *slog.Logger, store ContactStore, photos PhotoStore) *Directory {
	return &Directory{
		store:  store,
		photos: photos,
		log:    log.With("service", "directory"),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Create stores a new contact, together with its photo if one is given.
func (d *Directory) Create(ctx context.Context, in model.ContactInput, upload *model.PhotoUpload) (*model.Contact, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	photo, err := d.savePhoto(upload)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	created, err := d.store.Insert(ctx, Merge(nil, in, photo, d.now()))
	if err != nil {
		d.discardPhoto(ctx, photo)
		return nil, fmt.Errorf("create contact: %w", err)
	}

	d.log.InfoContext(ctx, "contact created",
		slog.Int64("contact_id", created.Id),
		slog.Bool("photo", created.HasPhoto()),
	)
	return created, nil
}

// Get returns the contact with the given id.
func (d *Directory) Get(ctx context.Context, id int64) (*model.Contact, error) {
	c, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get contact %d: %w", id, err)
	}
	return c, nil
}

// Update replaces the values of an existing contact. A given photo replaces the current one, whose
// file is removed once the record references the new photo. Without a photo the current one is kept.
func (d *Directory) Update(ctx context.Context, id int64, in model.ContactInput, upload *model.PhotoUpload) (*model.Contact, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	existing, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update contact %d: %w", id, err)
	}

	photo, err := d.savePhoto(upload)
	if err != nil {
		return nil, fmt.Errorf("update contact %d: %w", id, err)
	}

	updated, err := d.store.Update(ctx, id, Merge(existing, in, photo, d.now()))
	if err != nil {
		d.discardPhoto(ctx, photo)
		return nil, fmt.Errorf("update contact %d: %w", id, err)
	}

	if photo != nil && existing.HasPhoto() && *existing.PhotoPath != photo.Path {
		if err := d.photos.Delete(*existing.PhotoPath); err != nil {
			d.log.WarnContext(ctx, "superseded photo not removed",
				slog.Int64("contact_id", id),
				slog.String("path", *existing.PhotoPath),
				slog.String("error", err.Error()),
			)
		}
	}

	d.log.InfoContext(ctx, "contact updated",
		slog.Int64("contact_id", id),
		slog.Bool("photo_replaced", photo != nil),
	)
	return updated, nil
}

// Delete removes a contact and its photo file. The record is removed first, unlike a photo-first
// cleanup, so a failed store delete never leaves a record pointing at a missing file. If the photo
// file cannot be removed afterwards, the returned error matches model.ErrStorage while the record
// is already gone.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	existing, err := d.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}

	if err := d.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}

	if existing.HasPhoto() {
		if err := d.photos.Delete(*existing.PhotoPath); err != nil {
			d.log.ErrorContext(ctx, "photo of deleted contact not removed",
				slog.Int64("contact_id", id),
				slog.String("path", *existing.PhotoPath),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("delete contact %d: %w", id, err)
		}
	}

	d.log.InfoContext(ctx, "contact deleted", slog.Int64("contact_id", id))
	return nil
}

// List returns one page of all contacts ordered by first name, last name and id. Pages are
// zero-based; a page past the end is empty.
func (d *Directory) List(ctx context.Context, page, size int) (model.Page[model.Contact], error) {
	if err := validatePaging(page, size); err != nil {
		return model.Page[model.Contact]{}, err
	}
	result, err := d.store.ListOrdered(ctx, page, size)
	if err != nil {
		return model.Page[model.Contact]{}, fmt.Errorf("list contacts: %w", err)
	}
	return result, nil
}

// Search returns one page of the contacts whose full name, email, phone or company contain term,
// ignoring case. The order is the same as for List. A blank term lists all contacts.
func (d *Directory) Search(ctx context.Context, term string, page, size int) (model.Page[model.Contact], error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return d.List(ctx, page, size)
	}
	if err := validatePaging(page, size); err != nil {
		return model.Page[model.Contact]{}, err
	}
	result, err := d.store.SearchSubstring(ctx, term, page, size)
	if err != nil {
		return model.Page[model.Contact]{}, fmt.Errorf("search contacts: %w", err)
	}
	return result, nil
}

// savePhoto stores the upload, if there is one, and returns the reference to keep on the contact.
func (d *Directory) savePhoto(upload *model.PhotoUpload) (*model.Photo, error) {
	if upload.Empty() {
		return nil, nil
	}
	name, path, err := d.photos.Save(upload.Filename, upload.Data)
	if err != nil {
		return nil, err
	}
	return &model.Photo{Name: name, Path: path}, nil
}

// discardPhoto removes a photo saved for a write that did not happen.
func (d *Directory) discardPhoto(ctx context.Context, photo *model.Photo) {
	if photo == nil {
		return
	}
	if err := d.photos.Delete(photo.Path); err != nil {
		d.log.WarnContext(ctx, "unreferenced photo not removed",
			slog.String("path", photo.Path),
			slog.String("error", err.Error()),
		)
	}
}

func validatePaging(page, size int) error {
	var errs []model.FieldError
	if page < 0 {
		errs = append(errs, model.FieldError{Field: "page", Message: "must be non-negative"})
	}
	if size < 1 {
		errs = append(errs, model.FieldError{Field: "size", Message: "must be positive"})
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

// IsNotFound reports whether err means that a contact does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
