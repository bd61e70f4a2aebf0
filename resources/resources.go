// Package resources binds the remote API to querysync: one query config per
// endpoint, with the staleness, retention and retry settings each resource
// is cached with, and the user mutations with their invalidation fan-out.
package resources

import (
	"context"
	"time"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/remote"
)

// API is the part of remote.Client the bindings use.
type API interface {
	Users(ctx context.Context, limit, skip int) (remote.Page[remote.User], error)
	User(ctx context.Context, id int) (remote.User, error)
	AddUser(ctx context.Context, in remote.NewUser) (remote.User, error)
	UpdateUser(ctx context.Context, id int, patch remote.UserPatch) (remote.User, error)
	DeleteUser(ctx context.Context, id int) (remote.Deleted, error)
	Posts(ctx context.Context, limit, skip int) (remote.Page[remote.Post], error)
	UserPosts(ctx context.Context, userID int) (remote.Page[remote.Post], error)
	Comments(ctx context.Context, postID int) (remote.Page[remote.Comment], error)
	SearchUsers(ctx context.Context, q string) (remote.Page[remote.User], error)
	SearchPosts(ctx context.Context, q string) (remote.Page[remote.Post], error)
}

var _ API = (*remote.Client)(nil)

// Codec names accepted by Options.Codec.
const (
	CodecNone    = ""
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

type Options struct {
	// Codec lets entries spill to the client's spill tier; "" keeps them
	// memory-only.
	Codec string
}

type Resources struct {
	api   API
	codec string
}

func New(api API, opts Options) *Resources {
	return &Resources{api: api, codec: opts.Codec}
}

var (
	listSettings   = settings{stale: 5 * time.Minute, gc: 10 * time.Minute, retry: 3}
	userSettings   = settings{stale: 10 * time.Minute, gc: 15 * time.Minute, retry: 3}
	searchSettings = settings{stale: 2 * time.Minute, gc: 5 * time.Minute, retry: 2}
)

type settings struct {
	stale, gc time.Duration
	retry     int
}

func (s settings) policy() querysync.RetryPolicy { return querysync.RetryPolicy{Max: s.retry} }

func query[T any](r *Resources, s settings, k querysync.Key, fetch func(context.Context) (T, error)) querysync.QueryConfig[T] {
	return querysync.QueryConfig[T]{
		Key:       k,
		Fetch:     fetch,
		StaleTime: s.stale,
		GCTime:    s.gc,
		Retry:     s.policy(),
		Codec:     codecFor[T](r.codec),
	}
}

func codecFor[T any](name string) codec.Codec[T] {
	switch name {
	case CodecJSON:
		return codec.JSON[T]{}
	case CodecMsgpack:
		return codec.Msgpack[T]{}
	case CodecCBOR:
		return codec.MustCBOR[T](false)
	default:
		return nil
	}
}

// UsersPage is one offset page of users.
func (r *Resources) UsersPage(limit, skip int) querysync.QueryConfig[remote.Page[remote.User]] {
	return query(r, listSettings, UsersPageKey(limit, skip), func(ctx context.Context) (remote.Page[remote.User], error) {
		return r.api.Users(ctx, limit, skip)
	})
}

// UsersPages walks the user list page by page, keeping the previous page on
// screen while the next loads.
func (r *Resources) UsersPages(limit int) querysync.PageConfig[remote.Page[remote.User]] {
	return querysync.PageConfig[remote.Page[remote.User]]{
		Key: UsersPaginationKey(limit),
		Fetch: func(ctx context.Context, page int) (remote.Page[remote.User], error) {
			return r.api.Users(ctx, limit, page*limit)
		},
		Segment: func(page int) any { return page * limit },
		HasNext: func(last remote.Page[remote.User], _ int) bool {
			_, ok := last.Next()
			return ok
		},
		StaleTime:        listSettings.stale,
		GCTime:           listSettings.gc,
		Retry:            listSettings.policy(),
		Codec:            codecFor[remote.Page[remote.User]](r.codec),
		KeepPreviousData: true,
	}
}

// InfiniteUsers loads users limit at a time; the next skip is the number of
// users loaded so far.
func (r *Resources) InfiniteUsers(limit int) querysync.InfiniteConfig[remote.Page[remote.User], int] {
	return querysync.InfiniteConfig[remote.Page[remote.User], int]{
		Key: UsersInfiniteKey(limit),
		Fetch: func(ctx context.Context, skip int) (remote.Page[remote.User], error) {
			return r.api.Users(ctx, limit, skip)
		},
		InitialParam: 0,
		NextParam: func(last remote.Page[remote.User], all []remote.Page[remote.User]) (int, bool) {
			fetched := len(all) * limit
			return fetched, fetched < last.Total
		},
		StaleTime: listSettings.stale,
		GCTime:    listSettings.gc,
		Retry:     listSettings.policy(),
		Codec:     codecFor[remote.Page[remote.User]](r.codec),
	}
}

// User is disabled for id 0.
func (r *Resources) User(id int) querysync.QueryConfig[remote.User] {
	cfg := query(r, userSettings, UserKey(id), func(ctx context.Context) (remote.User, error) {
		return r.api.User(ctx, id)
	})
	cfg.Disabled = id == 0
	return cfg
}

func (r *Resources) Posts(limit, skip int) querysync.QueryConfig[remote.Page[remote.Post]] {
	return query(r, listSettings, PostsKey(limit, skip), func(ctx context.Context) (remote.Page[remote.Post], error) {
		return r.api.Posts(ctx, limit, skip)
	})
}

func (r *Resources) UserPosts(userID int) querysync.QueryConfig[remote.Page[remote.Post]] {
	cfg := query(r, listSettings, UserPostsKey(userID), func(ctx context.Context) (remote.Page[remote.Post], error) {
		return r.api.UserPosts(ctx, userID)
	})
	cfg.Disabled = userID == 0
	return cfg
}

func (r *Resources) Comments(postID int) querysync.QueryConfig[remote.Page[remote.Comment]] {
	cfg := query(r, listSettings, CommentsKey(postID), func(ctx context.Context) (remote.Page[remote.Comment], error) {
		return r.api.Comments(ctx, postID)
	})
	cfg.Disabled = postID == 0
	return cfg
}

// SearchUsers stays disabled until q is longer than two characters.
func (r *Resources) SearchUsers(q string) querysync.QueryConfig[remote.Page[remote.User]] {
	cfg := query(r, searchSettings, SearchUsersKey(q), func(ctx context.Context) (remote.Page[remote.User], error) {
		return r.api.SearchUsers(ctx, q)
	})
	cfg.Disabled = len(q) <= 2
	return cfg
}

func (r *Resources) SearchPosts(q string) querysync.QueryConfig[remote.Page[remote.Post]] {
	cfg := query(r, searchSettings, SearchPostsKey(q), func(ctx context.Context) (remote.Page[remote.Post], error) {
		return r.api.SearchPosts(ctx, q)
	})
	cfg.Disabled = len(q) <= 2
	return cfg
}
