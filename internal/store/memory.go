package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

// Memory is a contact store held in process memory. It serves tests and single-process setups
// without a database. Returned contacts are copies.
type Memory struct {
	mu       sync.Mutex
	nextId   int64
	contacts map[int64]model.Contact
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{contacts: map[int64]model.Contact{}}
}

// Get returns the contact with the given id.
func (s *Memory) Get(_ context.Context, id int64) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, model.NotFound(id)
	}
	return clone(c), nil
}

// FindByEmail returns the first contact, in name order, with exactly the given email address.
func (s *Memory) FindByEmail(_ context.Context, email string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sorted(nil) {
		if c.Email == email {
			return clone(c), nil
		}
	}
	return nil, model.ErrNotFound
}

// Insert assigns the next id and stores the contact.
func (s *Memory) Insert(_ context.Context, c model.Contact) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	c.Id = s.nextId
	s.contacts[c.Id] = *clone(c)
	return clone(c), nil
}

// Update replaces the stored contact. The id and creation time of the stored record are kept.
func (s *Memory) Update(_ context.Context, id int64, c model.Contact) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.contacts[id]
	if !ok {
		return nil, model.NotFound(id)
	}
	c.Id = id
	c.CreatedAt = old.CreatedAt
	s.contacts[id] = *clone(c)
	return clone(c), nil
}

// Delete removes the contact with the given id.
func (s *Memory) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return model.NotFound(id)
	}
	delete(s.contacts, id)
	return nil
}

// Count returns the number of stored contacts.
func (s *Memory) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contacts)
}

// ListOrdered returns one page of all contacts ordered by first name, last name and id.
func (s *Memory) ListOrdered(_ context.Context, page, size int) (model.Page[model.Contact], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paginate(s.sorted(nil), page, size), nil
}

// SearchSubstring returns one page of the contacts whose full name, email, phone or company
// contain term, ignoring case.
func (s *Memory) SearchSubstring(_ context.Context, term string, page, size int) (model.Page[model.Contact], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	term = strings.ToLower(term)
	return paginate(s.sorted(func(c model.Contact) bool { return matches(c, term) }), page, size), nil
}

// sorted returns the contacts accepted by keep in list order. A nil keep accepts all.
func (s *Memory) sorted(keep func(model.Contact) bool) []model.Contact {
	result := make([]model.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		if keep == nil || keep(c) {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, compareByName)
	return result
}

// compareByName orders by first name, then last name, then id.
func compareByName(a, b model.Contact) int {
	if c := strings.Compare(a.FirstName, b.FirstName); c != 0 {
		return c
	}
	if c := strings.Compare(a.LastName, b.LastName); c != 0 {
		return c
	}
	switch {
	case a.Id < b.Id:
		return -1
	case a.Id > b.Id:
		return 1
	}
	return 0
}

// matches expects a lower case term.
func matches(c model.Contact, term string) bool {
	for _, field := range []string{c.FullName(), c.Email, c.Phone, c.Company} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

func paginate(all []model.Contact, page, size int) model.Page[model.Contact] {
	from, ok := model.Offset(page, size)
	if !ok || from > len(all) {
		from = len(all)
	}
	to := from + min(size, len(all)-from)
	items := make([]model.Contact, 0, to-from)
	for _, c := range all[from:to] {
		items = append(items, *clone(c))
	}
	return model.NewPage(items, len(all), page, size)
}

func clone(c model.Contact) *model.Contact {
	if c.PhotoFileName != nil {
		name := *c.PhotoFileName
		c.PhotoFileName = &name
	}
	if c.PhotoPath != nil {
		path := *c.PhotoPath
		c.PhotoPath = &path
	}
	return &c
}
