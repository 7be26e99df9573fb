package service

import (
	"time"

	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

// Merge computes the contact to persist from the existing record (nil on create), the submitted
// values and an optional newly stored photo. It has no side effects.
//
// All values of in replace those of existing. Id and CreatedAt are carried over from existing;
// on create Id stays zero for the store to assign and CreatedAt is set to now. UpdatedAt is always
// now. A new photo replaces both photo fields; without one the photo fields are kept unchanged.
func Merge(existing *model.Contact, in model.ContactInput, photo *model.Photo, now time.Time) model.Contact {
	merged := model.Contact{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		Company:   in.Company,
		JobTitle:  in.JobTitle,
		Address:   in.Address,
		City:      in.City,
		State:     in.State,
		ZipCode:   in.ZipCode,
		Country:   in.Country,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		merged.Id = existing.Id
		merged.CreatedAt = existing.CreatedAt
		merged.PhotoFileName = copyString(existing.PhotoFileName)
		merged.PhotoPath = copyString(existing.PhotoPath)
		if merged.UpdatedAt.Before(merged.CreatedAt) {
			merged.UpdatedAt = merged.CreatedAt
		}
	}
	if photo != nil {
		name, path := photo.Name, photo.Path
		merged.PhotoFileName = &name
		merged.PhotoPath = &path
	}
	return merged
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
