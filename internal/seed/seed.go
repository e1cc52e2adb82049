// Package seed loads fixture data into an empty or existing store.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"libris/internal/catalog"
	"libris/internal/membership"
	"libris/internal/validate"
)

//go:embed fixtures.yml
var defaultFixtures []byte

// Fixtures is the content of a seed file.
type Fixtures struct {
	Authors []Author `yaml:"authors"`
	Books   []Book   `yaml:"books"`
	Users   []User   `yaml:"users"`
}

// Author is referenced by books through Key.
type Author struct {
	Key       string `yaml:"key"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

type Book struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	Stock  int    `yaml:"stock"`
}

type User struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Summary counts what Apply created and what already existed.
type Summary struct {
	Authors, Books, Users int
	Skipped               int
}

// Default returns the built-in fixtures.
func Default() (*Fixtures, error) {
	return Parse(defaultFixtures)
}

// Load reads fixtures from a YAML file.
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML fixtures.
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Fixtures) validate() error {
	v := validate.Errors{}
	keys := make(map[string]bool, len(f.Authors))
	for i, a := range f.Authors {
		field := fmt.Sprintf("authors[%d]", i)
		v.Required(field+".key", a.Key)
		v.Required(field+".first_name", a.FirstName)
		v.Required(field+".last_name", a.LastName)
		keys[a.Key] = true
	}
	for i, b := range f.Books {
		field := fmt.Sprintf("books[%d]", i)
		v.Required(field+".title", b.Title)
		stock := b.Stock
		v.NonNegative(field+".stock", &stock)
		if !keys[b.Author] {
			v[field+".author"] = fmt.Sprintf("unknown author key %q", b.Author)
		}
	}
	for i, u := range f.Users {
		field := fmt.Sprintf("users[%d]", i)
		v.Required(field+".username", u.Username)
		v.Required(field+".password", u.Password)
		v.Email(field+".email", u.Email)
	}
	return v.Err()
}

// Seeder writes fixtures through the catalog and membership services, so
// seeded rows follow the same rules as rows created over HTTP.
type Seeder struct {
	catalog catalog.Service
	members membership.Service
}

func NewSeeder(c catalog.Service, m membership.Service) *Seeder {
	return &Seeder{catalog: c, members: m}
}

// Apply creates what is missing. Authors match on full name, books on title
// and author, users on username.
func (s *Seeder) Apply(ctx context.Context, f *Fixtures) (Summary, error) {
	var sum Summary

	existingAuthors, err := s.catalog.ListAuthors(ctx)
	if err != nil {
		return sum, err
	}
	authorIDs := make(map[string]uuid.UUID, len(f.Authors))
	for _, a := range f.Authors {
		if id, ok := findAuthor(existingAuthors, a); ok {
			authorIDs[a.Key] = id
			sum.Skipped++
			continue
		}
		created, err := s.catalog.CreateAuthor(ctx, a.FirstName, a.LastName)
		if err != nil {
			return sum, fmt.Errorf("seed author %s: %w", a.Key, err)
		}
		authorIDs[a.Key] = created.ID
		sum.Authors++
	}

	existingBooks, err := s.catalog.ListBooks(ctx)
	if err != nil {
		return sum, err
	}
	for _, b := range f.Books {
		authorID := authorIDs[b.Author]
		if hasBook(existingBooks, b.Title, authorID) {
			sum.Skipped++
			continue
		}
		if _, err := s.catalog.CreateBook(ctx, b.Title, authorID, b.Stock); err != nil {
			return sum, fmt.Errorf("seed book %q: %w", b.Title, err)
		}
		sum.Books++
	}

	for _, u := range f.Users {
		hashed, err := membership.HashPassword(u.Password)
		if err != nil {
			return sum, err
		}
		_, err = s.members.Create(ctx, u.Username, u.Email, hashed)
		switch {
		case errors.Is(err, membership.ErrUsernameTaken):
			sum.Skipped++
		case err != nil:
			return sum, fmt.Errorf("seed user %s: %w", u.Username, err)
		default:
			sum.Users++
		}
	}

	return sum, nil
}

func findAuthor(authors []*catalog.Author, a Author) (uuid.UUID, bool) {
	for _, existing := range authors {
		if existing.FirstName == a.FirstName && existing.LastName == a.LastName {
			return existing.ID, true
		}
	}
	return uuid.Nil, false
}

func hasBook(books []*catalog.Book, title string, authorID uuid.UUID) bool {
	for _, b := range books {
		if b.Title == title && b.AuthorID == authorID {
			return true
		}
	}
	return false
}
