package directory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jobchat/internal/errs"
	"jobchat/internal/models"
	"jobchat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	users   map[string]models.User
	handles map[string]string
	err     error
	mu      sync.Mutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:   make(map[string]models.User),
		handles: make(map[string]string),
	}
}

func (m *memoryStore) GetUser(userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) PutUser(u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memoryStore) UsersByHandle(handle string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	id, ok := m.handles[handle]
	if !ok {
		return nil, nil
	}
	return []models.User{m.users[id]}, nil
}

func (m *memoryStore) ListUsers() ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []models.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memoryStore) ClaimHandle(userID, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.handles[handle]; ok && owner != userID {
		return false, nil
	}
	if u, ok := m.users[userID]; ok {
		if u.Handle != "" && u.Handle != handle {
			delete(m.handles, u.Handle)
		}
		u.Handle = handle
		m.users[userID] = u
	}
	m.handles[handle] = userID
	return true, nil
}

func newTestDirectory(store UserStore) *Directory {
	d := New(store)
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }
	d.random = func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'x'
		}
		return string(b)
	}
	return d
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("NewUser", func(t *testing.T) {
		d := newTestDirectory(newMemoryStore())
		u, err := d.Sync(ctx, models.Account{ID: "u1", DisplayName: "Bob  Smith", Email: "bob@x.io"})
		require.NoError(t, err)
		assert.Equal(t, "bob_smith", u.Handle)
		assert.Equal(t, "Bob  Smith", u.DisplayName)
		assert.Equal(t, int64(1700000000000), u.LastSeen)
	})

	t.Run("NoDisplayName", func(t *testing.T) {
		d := newTestDirectory(newMemoryStore())
		u, err := d.Sync(ctx, models.Account{ID: "u1", Email: "anon@x.io"})
		require.NoError(t, err)
		assert.Equal(t, "user_xxxxxxxxx", u.Handle)
		assert.Equal(t, "Anonymous", u.DisplayName)
	})

	t.Run("KeepsHandleOnResignIn", func(t *testing.T) {
		store := newMemoryStore()
		d := newTestDirectory(store)
		_, err := d.Sync(ctx, models.Account{ID: "u1", DisplayName: "Bob Smith"})
		require.NoError(t, err)
		_, err = d.UpdateHandle(ctx, "u1", "bobby")
		require.NoError(t, err)

		d.now = func() time.Time { return time.UnixMilli(1700000005000) }
		u, err := d.Sync(ctx, models.Account{ID: "u1", DisplayName: "Robert Smith", Email: "r@x.io"})
		require.NoError(t, err)
		assert.Equal(t, "bobby", u.Handle)
		assert.Equal(t, "Robert Smith", u.DisplayName)
		assert.Equal(t, "r@x.io", u.Email)
		assert.Equal(t, int64(1700000005000), u.LastSeen)
	})

	t.Run("CollidingHandle", func(t *testing.T) {
		d := newTestDirectory(newMemoryStore())
		first, err := d.Sync(ctx, models.Account{ID: "u1", DisplayName: "Bob Smith"})
		require.NoError(t, err)
		second, err := d.Sync(ctx, models.Account{ID: "u2", DisplayName: "Bob Smith"})
		require.NoError(t, err)

		assert.Equal(t, "bob_smith", first.Handle)
		assert.Equal(t, "bob_smith_xxxxx", second.Handle)
	})

	t.Run("HandlesExhausted", func(t *testing.T) {
		d := newTestDirectory(newMemoryStore())
		for _, id := range []string{"u1", "u2", "u3"} {
			_, err := d.Sync(ctx, models.Account{ID: id, DisplayName: "Bob"})
			if id == "u3" {
				require.ErrorIs(t, err, ErrHandleTaken)
				continue
			}
			require.NoError(t, err)
		}
	})

	t.Run("DisplayNameKeptVerbatim", func(t *testing.T) {
		d := newTestDirectory(newMemoryStore())
		u, err := d.Sync(ctx, models.Account{ID: "u1", DisplayName: " Pat O'Brien & <Co> "})
		require.NoError(t, err)
		assert.Equal(t, "Pat O'Brien & <Co>", u.DisplayName)

		_, err = d.Sync(ctx, models.Account{ID: "u2", DisplayName: "bad \xff"})
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	})

	t.Run("MissingID", func(t *testing.T) {
		d := newTestDirectory(newMemoryStore())
		_, err := d.Sync(ctx, models.Account{DisplayName: "Bob"})
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	})
}

func TestDefaultHandle(t *testing.T) {
	d := newTestDirectory(newMemoryStore())
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "Alice", "alice"},
		{"Spaces", "Mary Jane  Watson", "mary_jane_watson"},
		{"Tabs", "Ann\tLee", "ann_lee"},
		{"Punctuation", "O'Brien, Pat", "obrien_pat"},
		{"OnlySymbols", "!!!", "user_xxxxxxxxx"},
		{"Empty", "", "user_xxxxxxxxx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, d.DefaultHandle(tt.input))
		})
	}
}

func TestUpdateHandle(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(newMemoryStore())
	_, err := d.Sync(ctx, models.Account{ID: "u1", DisplayName: "Ann"})
	require.NoError(t, err)
	_, err = d.Sync(ctx, models.Account{ID: "u2", DisplayName: "Bob"})
	require.NoError(t, err)

	u, err := d.UpdateHandle(ctx, "u1", " Annie ")
	require.NoError(t, err)
	assert.Equal(t, "annie", u.Handle)

	// The old handle is released.
	u, err = d.UpdateHandle(ctx, "u2", "ann")
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Handle)

	_, err = d.UpdateHandle(ctx, "u2", "annie")
	require.ErrorIs(t, err, ErrHandleTaken)

	_, err = d.UpdateHandle(ctx, "u2", "bad handle")
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = d.UpdateHandle(ctx, "missing", "fresh")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	d := newTestDirectory(store)

	accounts := []models.Account{
		{ID: "me", DisplayName: "Me", Email: "me@x.io"},
		{ID: "u1", DisplayName: "Bob Smith", Email: "bob@x.io"},
		{ID: "u2", DisplayName: "Bobby Smith", Email: "bobby@x.io"},
		{ID: "u3", DisplayName: "Carol", Email: "carol@bobsmith.com"},
	}
	for _, a := range accounts {
		_, err := d.Sync(ctx, a)
		require.NoError(t, err)
	}
	_, err := d.UpdateHandle(ctx, "u1", "bobsmith")
	require.NoError(t, err)

	t.Run("ExactHandleWins", func(t *testing.T) {
		users, err := d.Search(ctx, "BobSmith", "me")
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "u1", users[0].ID)
	})

	t.Run("SubstringOnHandleOrEmail", func(t *testing.T) {
		users, err := d.Search(ctx, "smith", "me")
		require.NoError(t, err)
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, ids)
	})

	t.Run("ExcludesSelf", func(t *testing.T) {
		users, err := d.Search(ctx, "me", "me")
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("EmptyTerm", func(t *testing.T) {
		_, err := d.Search(ctx, "   ", "me")
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store.mu.Lock()
		store.err = errors.New("disk on fire")
		store.mu.Unlock()
		defer func() {
			store.mu.Lock()
			store.err = nil
			store.mu.Unlock()
		}()

		_, err := d.Search(ctx, "bob", "me")
		require.ErrorIs(t, err, ErrSearch)
		assert.Equal(t, errs.KindUnavailable, errs.KindOf(err))
	})
}

func TestSearchOnTree(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := newTestDirectory(store)
	_, err = d.Sync(ctx, models.Account{ID: "me", DisplayName: "Me", Email: "me@x.io"})
	require.NoError(t, err)
	_, err = d.Sync(ctx, models.Account{ID: "u1", DisplayName: "Bob Smith", Email: "bob@x.io"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		term     string
		expected []string
	}{
		{"Handle", "bob_smith", []string{"u1"}},
		{"Email", "bob@x.io", []string{"u1"}},
		{"Slashes", "bob//smith", nil},
		{"LeadingSlash", "/users", nil},
		{"Dots", "..", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := d.Search(ctx, tt.term, "me")
			require.NoError(t, err)
			var ids []string
			for _, u := range users {
				ids = append(ids, u.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}
