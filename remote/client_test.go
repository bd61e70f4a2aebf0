package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestUsersAcceptsBothEnvelopes(t *testing.T) {
	bodies := map[string]string{
		"5": `{"users":[{"id":6,"firstName":"Ann"}],"total":30,"skip":5,"limit":1}`,
		"0": `{"data":[{"id":1,"firstName":"Bob"}],"total":30,"skip":0,"limit":1}`,
	}
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, bodies[r.URL.Query().Get("skip")])
	})

	p, err := c.Users(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "Ann", p.Items[0].FirstName)
	assert.Equal(t, 30, p.Total)
	next, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 6, next)

	p, err = c.Users(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.Items[0].FirstName)
}

func TestHTTPErrorsAreTyped(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"User with id '999' not found"}`)
	})

	_, err := c.User(context.Background(), 999)
	require.Error(t, err)
	var qe *querysync.Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, querysync.KindHTTP, qe.Kind)
	assert.Equal(t, 404, qe.Status)
	assert.Equal(t, "/users/999", qe.Endpoint)
	assert.Contains(t, qe.Message, "not found")
	assert.True(t, IsNotFound(err))
	assert.True(t, querysync.IsClientError(err))
}

func TestServerErrorsAreRetryable(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.Posts(context.Background(), 10, 0)
	var qe *querysync.Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "Request failed: Service Unavailable", qe.Message)
	assert.True(t, querysync.Retryable(err))
	assert.False(t, querysync.IsClientError(err))
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: url})
	require.NoError(t, err)
	_, err = c.User(context.Background(), 1)
	assert.True(t, errors.Is(err, &querysync.Error{Kind: querysync.KindNetwork}))
	assert.True(t, querysync.Retryable(err))
}

func TestCancelledRequestIsNotNetworkError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.User(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, querysync.Retryable(err))
}

func TestUpdateSendsOnlyPatchedFields(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"firstName": "Zed"}, body)
		_, _ = io.WriteString(w, `{"id":3,"firstName":"Zed","lastName":"Q"}`)
	})

	name := "Zed"
	u, err := c.UpdateUser(context.Background(), 3, UserPatch{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, User{ID: 3, FirstName: "Zed", LastName: "Q"}, u)
}

func TestAddAndDelete(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/users/add":
			_, _ = io.WriteString(w, `{"id":209,"firstName":"New","lastName":"One","email":"n@x"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/users/209":
			_, _ = io.WriteString(w, `{"id":209,"isDeleted":true}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
	ctx := context.Background()
	u, err := c.AddUser(ctx, NewUser{FirstName: "New", LastName: "One", Email: "n@x"})
	require.NoError(t, err)
	assert.Equal(t, 209, u.ID)

	d, err := c.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, Deleted{ID: 209, IsDeleted: true}, d)
}

func TestReactionsBothShapes(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts/user/5", r.URL.Path)
		_, _ = io.WriteString(w, `{"posts":[
			{"id":1,"userId":5,"reactions":7},
			{"id":2,"userId":5,"reactions":{"likes":3,"dislikes":1}}
		],"total":2}`)
	})
	p, err := c.UserPosts(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.Equal(t, Reactions{Likes: 7}, p.Items[0].Reactions)
	assert.Equal(t, 4, p.Items[1].Reactions.Total())
}

func TestSearchEscapesQuery(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/search", r.URL.Path)
		assert.Equal(t, "ann & co", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `{"users":[],"total":0}`)
	})
	p, err := c.SearchUsers(context.Background(), "ann & co")
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	_, ok := p.Next()
	assert.False(t, ok)
}

func TestOversizedBodyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":1,"firstName":"`+strings.Repeat("x", 200)+`"}`)
	}))
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, MaxBody: 64})
	require.NoError(t, err)

	_, err = c.User(context.Background(), 1)
	var se *codec.SizeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 64, se.Max)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}
