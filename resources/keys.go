package resources

import "github.com/unkn0wn-root/querysync"

// Key layout. Offset pages and infinite lists live under different
// segments of "users" and do not share entries.
func UsersPaginationKey(limit int) querysync.Key {
	return querysync.K("users", "pagination", limit)
}

func UsersPageKey(limit, skip int) querysync.Key {
	return UsersPaginationKey(limit).Append(skip)
}

func UsersInfiniteKey(limit int) querysync.Key { return querysync.K("users", "infinite", limit) }
func UserKey(id int) querysync.Key             { return querysync.K("user", id) }
func PostsKey(limit, skip int) querysync.Key   { return querysync.K("posts", limit, skip) }
func UserPostsKey(userID int) querysync.Key    { return querysync.K("user-posts", userID) }
func CommentsKey(postID int) querysync.Key     { return querysync.K("comments", postID) }
func SearchUsersKey(q string) querysync.Key    { return querysync.K("search-users", q) }
func SearchPostsKey(q string) querysync.Key    { return querysync.K("search-posts", q) }

var (
	allUsers       = querysync.K("users")
	allSearchUsers = querysync.K("search-users")
)
