package resources

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/remote"
)

// UserUpdate is the input of the update mutations.
type UserUpdate struct {
	ID    int
	Patch remote.UserPatch
}

func listsOfUsers() []querysync.Key {
	return []querysync.Key{allUsers, allSearchUsers}
}

func (r *Resources) AddUserOp() querysync.Operation[remote.NewUser, remote.User] {
	return querysync.Operation[remote.NewUser, remote.User]{
		Name: "add-user",
		Call: r.api.AddUser,
		Invalidates: func(remote.NewUser, remote.User) []querysync.Key {
			return listsOfUsers()
		},
	}
}

// UpdateUserOp writes the server's copy at ["user", id] and refreshes the
// user lists.
func (r *Resources) UpdateUserOp() querysync.Operation[UserUpdate, remote.User] {
	return querysync.Operation[UserUpdate, remote.User]{
		Name: "update-user",
		Call: func(ctx context.Context, in UserUpdate) (remote.User, error) {
			return r.api.UpdateUser(ctx, in.ID, in.Patch)
		},
		Target: func(in UserUpdate) querysync.Key { return UserKey(in.ID) },
		Invalidates: func(UserUpdate, remote.User) []querysync.Key {
			return listsOfUsers()
		},
	}
}

func (r *Resources) DeleteUserOp() querysync.Operation[int, remote.Deleted] {
	return querysync.Operation[int, remote.Deleted]{
		Name: "delete-user",
		Call: r.api.DeleteUser,
		Invalidates: func(int, remote.Deleted) []querysync.Key {
			return listsOfUsers()
		},
	}
}

func (r *Resources) AddUser(ctx context.Context, c *querysync.Client, in remote.NewUser) querysync.MutationResult[remote.User] {
	return querysync.Mutate(ctx, c, r.AddUserOp(), in, querysync.MutationHooks[remote.NewUser, remote.User]{})
}

func (r *Resources) UpdateUser(ctx context.Context, c *querysync.Client, in UserUpdate) querysync.MutationResult[remote.User] {
	return querysync.Mutate(ctx, c, r.UpdateUserOp(), in, querysync.MutationHooks[UserUpdate, remote.User]{})
}

// DeleteUser drops the user's entry once the server confirms.
func (r *Resources) DeleteUser(ctx context.Context, c *querysync.Client, id int) querysync.MutationResult[remote.Deleted] {
	return querysync.Mutate(ctx, c, r.DeleteUserOp(), id, querysync.MutationHooks[int, remote.Deleted]{
		OnSuccess: func(_ remote.Deleted, id int) { c.Remove(UserKey(id)) },
	})
}

// UpdateUserOptimistic shows the patched user at once and restores the
// previous entry if the server refuses. Only the user's own entry is
// refreshed afterwards.
func (r *Resources) UpdateUserOptimistic(ctx context.Context, c *querysync.Client, in UserUpdate) querysync.MutationResult[remote.User] {
	op := r.UpdateUserOp()
	op.Name = "update-user-optimistic"
	op.Invalidates = nil
	return querysync.Mutate(ctx, c, op, in, querysync.MutationHooks[UserUpdate, remote.User]{
		Optimistic: querysync.Merge(func(prev remote.User, in UserUpdate) remote.User {
			return in.Patch.Apply(prev)
		}),
	})
}

// UserWithPosts is a user and everything they posted.
type UserWithPosts struct {
	User  remote.User
	Posts []remote.Post
}

// UserWithPosts loads both halves through the cache in parallel, so each is
// shared with anyone observing ["user", id] or ["user-posts", id].
func (r *Resources) UserWithPosts(ctx context.Context, c *querysync.Client, id int) (UserWithPosts, error) {
	var out UserWithPosts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := querysync.Fetch(gctx, c, r.User(id))
		out.User = u
		return err
	})
	g.Go(func() error {
		p, err := querysync.Fetch(gctx, c, r.UserPosts(id))
		out.Posts = p.Items
		return err
	})
	if err := g.Wait(); err != nil {
		return UserWithPosts{}, err
	}
	return out, nil
}

// BatchUsers fetches every id concurrently, results in ids order.
func (r *Resources) BatchUsers(ctx context.Context, c *querysync.Client, ids []int) ([]remote.User, error) {
	cfgs := make([]querysync.QueryConfig[remote.User], len(ids))
	for i, id := range ids {
		cfgs[i] = r.User(id)
	}
	return querysync.FetchAll(ctx, c, cfgs)
}
