package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedData(t *testing.T) {
	s := New()

	users := s.Users()
	require.Len(t, users, 3)
	assert.Equal(t, "Alice Johnson", users[0].Name)
	assert.Equal(t, "admin", users[0].Role)

	docs := s.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "Welcome Guide", docs[0].Title)
}

func TestUserLookup(t *testing.T) {
	s := New()

	u, err := s.User("2")
	require.NoError(t, err)
	assert.Equal(t, "Bob Smith", u.Name)

	_, err = s.User("999")
	assert.Error(t, err)
}

func TestCreateUser(t *testing.T) {
	s := New()

	u, err := s.CreateUser("Dana Scully", "dana@example.com", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	fetched, err := s.User(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dana Scully", fetched.Name)

	_, err = s.CreateUser("X", "x@example.com", "superuser")
	assert.Error(t, err)
}

func TestDeleteUser(t *testing.T) {
	s := New()

	u, err := s.DeleteUser("3")
	require.NoError(t, err)
	assert.Equal(t, "Charlie Brown", u.Name)

	_, err = s.User("3")
	assert.Error(t, err)

	_, err = s.DeleteUser("3")
	assert.Error(t, err)
}

func TestUpdateDocument(t *testing.T) {
	s := New()
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	d, err := s.UpdateDocument("doc1", "New Title", "")
	require.NoError(t, err)
	assert.Equal(t, "New Title", d.Title)
	// Empty content leaves the existing content unchanged.
	assert.Equal(t, "Welcome to our platform!", d.Content)
	assert.Equal(t, "2025-06-01T12:00:00Z", d.Updated)

	_, err = s.UpdateDocument("missing", "t", "c")
	assert.Error(t, err)
}

func TestSearchDocuments(t *testing.T) {
	s := New()

	t.Run("TitleMatch", func(t *testing.T) {
		results := s.SearchDocuments("welcome")
		require.Len(t, results, 1)
		assert.Equal(t, "doc1", results[0].ID)
		assert.Equal(t, "title", results[0].Relevance)
	})

	t.Run("ContentMatch", func(t *testing.T) {
		results := s.SearchDocuments("platform")
		require.Len(t, results, 1)
		assert.Equal(t, "content", results[0].Relevance)
	})

	t.Run("NoMatch", func(t *testing.T) {
		assert.Empty(t, s.SearchDocuments("quantum"))
	})
}

func TestStats(t *testing.T) {
	s := New()
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	stats := s.Stats()
	assert.Equal(t, 3, stats.UserCount)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 1, stats.AdminCount)
	assert.Equal(t, "2025-06-01T12:00:00Z", stats.Timestamp)
}

func TestConcurrentAccess(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateUser("Worker", "worker@example.com", "user")
			assert.NoError(t, err)
			s.Users()
			s.SearchDocuments("api")
			s.Stats()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3+8, s.Stats().UserCount)
}
