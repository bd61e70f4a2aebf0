package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/querysync/cmd/qsync/commands"
	"github.com/unkn0wn-root/querysync/remote"
)

// fakeAPI serves five users; PUT to a user in failIDs answers 500.
type fakeAPI struct {
	mu      sync.Mutex
	users   []remote.User
	failIDs map[int]bool
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{failIDs: map[int]bool{}}
	for i, n := range []string{"Ann", "Bob", "Cid", "Dee", "Eve"} {
		f.users = append(f.users, remote.User{ID: i + 1, FirstName: n, LastName: "Test", Email: n + "@x.io"})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		f.mu.Lock()
		end := min(skip+limit, len(f.users))
		page := append([]remote.User{}, f.users[min(skip, end):end]...)
		total := len(f.users)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"users": page, "total": total, "skip": skip, "limit": limit})
	})
	mux.HandleFunc("GET /users/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"users": []remote.User{{ID: 9, FirstName: r.URL.Query().Get("q")}}, "total": 1})
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := f.user(r.PathValue("id"))
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, u)
	})
	mux.HandleFunc("PUT /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		f.mu.Lock()
		fail := f.failIDs[id]
		f.mu.Unlock()
		if fail {
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
			return
		}
		var patch remote.UserPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.users[id-1] = patch.Apply(f.users[id-1])
		u := f.users[id-1]
		f.mu.Unlock()
		writeJSON(w, u)
	})
	mux.HandleFunc("POST /users/add", func(w http.ResponseWriter, r *http.Request) {
		var in remote.NewUser
		_ = json.NewDecoder(r.Body).Decode(&in)
		writeJSON(w, remote.User{ID: 6, FirstName: in.FirstName, LastName: in.LastName, Email: in.Email})
	})
	mux.HandleFunc("DELETE /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		writeJSON(w, remote.Deleted{ID: id, IsDeleted: true})
	})
	mux.HandleFunc("GET /posts/user/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		writeJSON(w, map[string]any{"posts": []map[string]any{
			{"id": id * 10, "userId": id, "title": "Hello from " + strconv.Itoa(id), "reactions": 3},
		}, "total": 1})
	})
	mux.HandleFunc("GET /posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"comments": []map[string]any{
			{"id": 1, "body": "nice", "user": map[string]any{"id": 2, "username": "bob"}},
		}, "total": 1})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeAPI) user(raw string) (remote.User, bool) {
	id, err := strconv.Atoi(raw)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil || id < 1 || id > len(f.users) {
		return remote.User{}, false
	}
	return f.users[id-1], true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func runCLI(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	cli := commands.New(&out, &logs)
	cli.SetArgs(append([]string{"--base-url", baseURL}, args...))
	err := cli.Execute(context.Background())
	return out.String(), err
}

func TestUsers(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := runCLI(t, url, "users", "--limit", "2", "--skip", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Cid Test")
	assert.Contains(t, out, "Dee Test")
	assert.NotContains(t, out, "Ann")
	assert.Contains(t, out, "showing 3-4 of 5")
}

func TestUsers_All(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := runCLI(t, url, "users", "--all", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "5 users in 3 pages")
	assert.Contains(t, out, "Eve Test")
}

func TestUser(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := runCLI(t, url, "user", "2", "--with-posts")
	require.NoError(t, err)
	assert.Contains(t, out, "#2 Bob Test <Bob@x.io>")
	assert.Contains(t, out, "Hello from 2")

	_, err = runCLI(t, url, "user", "zero")
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid id")
}

func TestUpdateUser_Optimistic(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := runCLI(t, url, "update-user", "1", "--first-name", "Zed")
	require.NoError(t, err)
	assert.Contains(t, out, "before:  Ann Test")
	assert.Contains(t, out, "shown:   Zed Test")
	assert.Contains(t, out, "updated: Zed Test")
}

func TestUpdateUser_RollsBack(t *testing.T) {
	f, url := newFakeAPI(t)
	f.failIDs[3] = true

	out, err := runCLI(t, url, "update-user", "3", "--email", "new@x.io")
	require.Error(t, err)
	assert.ErrorContains(t, err, "500")
	assert.Contains(t, out, "rolled back to: Cid Test")
}

func TestUpdateUser_NeedsAField(t *testing.T) {
	_, url := newFakeAPI(t)
	_, err := runCLI(t, url, "update-user", "1")
	assert.ErrorContains(t, err, "nothing to update")
}

func TestAddAndDeleteUser(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := runCLI(t, url, "add-user", "--first-name", "New", "--last-name", "One", "--email", "n@x.io")
	require.NoError(t, err)
	assert.Contains(t, out, "#6 New One")

	out, err = runCLI(t, url, "delete-user", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "user 6 deleted: true")
}

func TestSearchAndComments(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := runCLI(t, url, "search", "users", "anna")
	require.NoError(t, err)
	assert.Contains(t, out, "anna")

	_, err = runCLI(t, url, "search", "users", "an")
	assert.ErrorContains(t, err, "disabled")

	_, err = runCLI(t, url, "search", "teams", "anna")
	assert.ErrorContains(t, err, "unknown search target")

	out, err = runCLI(t, url, "comments", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "@bob: nice")
}

func TestConfigFlag(t *testing.T) {
	_, url := newFakeAPI(t)
	_, err := runCLI(t, url, "--config", fmt.Sprintf("%s/missing.yaml", t.TempDir()), "users")
	assert.ErrorContains(t, err, "failed to read config")
}
