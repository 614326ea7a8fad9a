//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"issuer/internal/storage"
	"issuer/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *storage.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = storage.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTripWithTTL() {
	ctx := context.Background()
	key := []string{"oauth", "code", "live"}

	s.Require().NoError(s.store.Set(ctx, key, []byte("payload"), time.Minute))

	got, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal([]byte("payload"), got)

	s.Require().NoError(s.store.Remove(ctx, key))
	_, err = s.store.Get(ctx, key)
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *RedisStoreSuite) TestListAcrossSubjects() {
	ctx := context.Background()

	s.Require().NoError(s.store.Set(ctx, []string{"oauth", "refresh", "subj1", "tok1"}, []byte("a"), time.Hour))
	s.Require().NoError(s.store.Set(ctx, []string{"oauth", "refresh", "subj1", "tok2"}, []byte("b"), time.Hour))
	s.Require().NoError(s.store.Set(ctx, []string{"oauth", "refresh", "other", "tok3"}, []byte("c"), time.Hour))

	keys, err := s.store.List(ctx, []string{"oauth", "refresh", "subj1"})
	s.Require().NoError(err)
	s.Len(keys, 2)
}
