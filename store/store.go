package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is a demo directory entry.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Document is a demo document entry.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Updated string `json:"updated"`
}

// SearchResult is one hit of a document search.
type SearchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Relevance names the matched field, "title" or "content".
	Relevance string `json:"relevance"`
}

// Stats summarizes the store contents.
type Stats struct {
	UserCount     int    `json:"users_count"`
	DocumentCount int    `json:"documents_count"`
	AdminCount    int    `json:"admin_users"`
	Timestamp     string `json:"timestamp"`
}

// Store holds the demo users and documents behind the directory tools.
// All state is owned by the instance; there are no package-level globals,
// and every method is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	users     map[string]User
	documents map[string]Document
	now       func() time.Time
}

// New creates a Store seeded with the demo fixtures.
func New() *Store {
	return &Store{
		users: map[string]User{
			"1": {ID: "1", Name: "Alice Johnson", Email: "alice@example.com", Role: "admin"},
			"2": {ID: "2", Name: "Bob Smith", Email: "bob@example.com", Role: "user"},
			"3": {ID: "3", Name: "Charlie Brown", Email: "charlie@example.com", Role: "user"},
		},
		documents: map[string]Document{
			"doc1": {ID: "doc1", Title: "Welcome Guide", Content: "Welcome to our platform!", Updated: "2024-01-01"},
			"doc2": {ID: "doc2", Title: "API Documentation", Content: "Here's how to use our API...", Updated: "2024-01-15"},
		},
		now: time.Now,
	}
}

// Users returns all users sorted by ID.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// User returns the user with the given ID.
func (s *Store) User(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user with ID %q not found", id)
	}
	return u, nil
}

// CreateUser adds a new user and returns it.
func (s *Store) CreateUser(name, email, role string) (User, error) {
	if role != "user" && role != "admin" {
		return User{}, fmt.Errorf("role must be either 'user' or 'admin', got %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := User{ID: uuid.NewString(), Name: name, Email: email, Role: role}
	s.users[u.ID] = u
	return u, nil
}

// DeleteUser removes the user with the given ID and returns it.
func (s *Store) DeleteUser(id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user with ID %q not found", id)
	}
	delete(s.users, id)
	return u, nil
}

// Documents returns all documents sorted by ID.
func (s *Store) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.documents))
	for _, d := range s.documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// Document returns the document with the given ID.
func (s *Store) Document(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("document with ID %q not found", id)
	}
	return d, nil
}

// UpdateDocument updates the title and/or content of a document. Empty
// arguments leave the corresponding field unchanged.
func (s *Store) UpdateDocument(id, title, content string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("document with ID %q not found", id)
	}

	if title != "" {
		d.Title = title
	}
	if content != "" {
		d.Content = content
	}
	d.Updated = s.now().UTC().Format(time.RFC3339)
	s.documents[id] = d
	return d, nil
}

// SearchDocuments returns the documents whose title or content contains
// the query, case-insensitively, sorted by ID.
func (s *Store) SearchDocuments(query string) []SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	results := make([]SearchResult, 0)
	for _, d := range s.documents {
		switch {
		case strings.Contains(strings.ToLower(d.Title), q):
			results = append(results, SearchResult{ID: d.ID, Title: d.Title, Relevance: "title"})
		case strings.Contains(strings.ToLower(d.Content), q):
			results = append(results, SearchResult{ID: d.ID, Title: d.Title, Relevance: "content"})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// Stats reports store counts with a current timestamp.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admins := 0
	for _, u := range s.users {
		if u.Role == "admin" {
			admins++
		}
	}

	return Stats{
		UserCount:     len(s.users),
		DocumentCount: len(s.documents),
		AdminCount:    admins,
		Timestamp:     s.now().UTC().Format(time.RFC3339),
	}
}
