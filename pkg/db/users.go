package db

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/gocql/gocql"
	"github.com/mahaj/travelchat/pkg/model"
)

var ErrUserNotFound = errors.New("user not found")

type UserStore struct {
	s *Session
}

func NewUserStore(s *Session) *UserStore {
	return &UserStore{s: s}
}

func (u *UserStore) Upsert(ctx context.Context, user model.UserIdentity) error {
	return u.s.Query(`INSERT INTO users (id, display_name, handle, avatar_url) VALUES (?, ?, ?, ?)`,
		user.ID, user.DisplayName, user.Handle, user.AvatarURL).WithContext(ctx).Exec()
}

func (u *UserStore) Get(ctx context.Context, id string) (model.UserIdentity, error) {
	user := model.UserIdentity{ID: id}
	err := u.s.Query(`SELECT display_name, handle, avatar_url FROM users WHERE id = ?`, id).
		WithContext(ctx).Scan(&user.DisplayName, &user.Handle, &user.AvatarURL)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.UserIdentity{}, ErrUserNotFound
	}
	return user, err
}

// Search matches query case-insensitively against id, handle and display
// name. The users table is small enough to scan; results are ordered by id.
func (u *UserStore) Search(ctx context.Context, query string, page, limit int) ([]model.UserIdentity, int, error) {
	iter := u.s.Query(`SELECT id, display_name, handle, avatar_url FROM users`).WithContext(ctx).Iter()

	q := strings.ToLower(strings.TrimSpace(query))
	var matches []model.UserIdentity
	var user model.UserIdentity
	for iter.Scan(&user.ID, &user.DisplayName, &user.Handle, &user.AvatarURL) {
		if q == "" ||
			strings.Contains(strings.ToLower(user.ID), q) ||
			strings.Contains(strings.ToLower(user.Handle), q) ||
			strings.Contains(strings.ToLower(user.DisplayName), q) {
			matches = append(matches, user)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, 0, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return Paginate(matches, page, limit), len(matches), nil
}

// Paginate returns the 1-based page of items.
func Paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if page < 1 || limit <= 0 || start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
