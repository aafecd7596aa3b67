package db

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/travelchat/pkg/model"
)

// FollowStore keeps both directions of every edge so that following and
// followers are each a single-partition read.
type FollowStore struct {
	s     *Session
	users *UserStore
}

func NewFollowStore(s *Session, users *UserStore) *FollowStore {
	return &FollowStore{s: s, users: users}
}

func (f *FollowStore) Follow(ctx context.Context, userID, targetID string) error {
	now := time.Now()
	batch := f.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO following (user_id, following_id, created_at) VALUES (?, ?, ?)`, userID, targetID, now)
	batch.Query(`INSERT INTO followers (user_id, follower_id, created_at) VALUES (?, ?, ?)`, targetID, userID, now)
	return f.s.ExecuteBatch(batch)
}

func (f *FollowStore) Unfollow(ctx context.Context, userID, targetID string) error {
	batch := f.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM following WHERE user_id = ? AND following_id = ?`, userID, targetID)
	batch.Query(`DELETE FROM followers WHERE user_id = ? AND follower_id = ?`, targetID, userID)
	return f.s.ExecuteBatch(batch)
}

func (f *FollowStore) Following(ctx context.Context, userID string) ([]model.UserIdentity, error) {
	return f.list(ctx, `SELECT following_id FROM following WHERE user_id = ?`, userID)
}

func (f *FollowStore) Followers(ctx context.Context, userID string) ([]model.UserIdentity, error) {
	return f.list(ctx, `SELECT follower_id FROM followers WHERE user_id = ?`, userID)
}

func (f *FollowStore) list(ctx context.Context, query, userID string) ([]model.UserIdentity, error) {
	iter := f.s.Query(query, userID).WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	users := make([]model.UserIdentity, 0, len(ids))
	for _, id := range ids {
		user, err := f.users.Get(ctx, id)
		if err != nil {
			user = model.UserIdentity{ID: id}
		}
		users = append(users, user)
	}
	return users, nil
}
