package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Address struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

type User struct {
	ID        int      `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Age       int      `json:"age,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Username  string   `json:"username,omitempty"`
	BirthDate string   `json:"birthDate,omitempty"`
	Image     string   `json:"image,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

func (u User) Name() string { return u.FirstName + " " + u.LastName }

type NewUser struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Age       int    `json:"age,omitempty"`
}

// UserPatch is a partial update; nil fields are left alone.
type UserPatch struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
	Age       *int    `json:"age,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// Apply returns u with the patch's fields set.
func (p UserPatch) Apply(u User) User {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	return u
}

func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil && p.Age == nil && p.Phone == nil
}

type Deleted struct {
	ID        int  `json:"id"`
	IsDeleted bool `json:"isDeleted"`
}

// Reactions is either a plain count or a likes/dislikes pair on the wire.
// A plain count decodes into Likes.
type Reactions struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

func (r Reactions) Total() int { return r.Likes + r.Dislikes }

func (r *Reactions) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Reactions{}
		return nil
	}
	if b[0] != '{' {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("remote: reactions: %w", err)
		}
		*r = Reactions{Likes: n}
		return nil
	}
	type pair Reactions
	var p pair
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("remote: reactions: %w", err)
	}
	*r = Reactions(p)
	return nil
}

type Post struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UserID    int       `json:"userId"`
	Tags      []string  `json:"tags"`
	Reactions Reactions `json:"reactions"`
}

type CommentUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type Comment struct {
	ID     int         `json:"id"`
	Body   string      `json:"body"`
	PostID int         `json:"postId"`
	User   CommentUser `json:"user"`
}

// Page is one slice of a list endpoint.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// Next reports the skip of the page after p.
func (p Page[T]) Next() (int, bool) {
	next := p.Skip + len(p.Items)
	return next, len(p.Items) > 0 && next < p.Total
}

// listBody accepts both the generic {"data": [...]} envelope and the
// per-resource one ({"users": [...]}, {"posts": [...]}, {"comments": [...]}).
type listBody[T any] struct {
	Data     []T `json:"data"`
	Users    []T `json:"users"`
	Posts    []T `json:"posts"`
	Comments []T `json:"comments"`
	Total    int `json:"total"`
	Skip     int `json:"skip"`
	Limit    int `json:"limit"`
}

func (b listBody[T]) page() Page[T] {
	p := Page[T]{Total: b.Total, Skip: b.Skip, Limit: b.Limit}
	for _, items := range [][]T{b.Data, b.Users, b.Posts, b.Comments} {
		if items != nil {
			p.Items = items
			break
		}
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	return p
}
