package redis

import (
	"context"

	"github.com/avovello/stagerun/model"
	"github.com/avovello/stagerun/persistence"
	"github.com/avovello/stagerun/util"
	rd "github.com/go-redis/redis/v9"
)

const SESSION string = "SESSION"

type redisSessionStorage struct {
	*baseDao
	sessionEncDec util.EncoderDecoder[model.RunSession]
}

var _ persistence.SessionStorage = new(redisSessionStorage)

func NewRedisSessionStorage(conf Config) *redisSessionStorage {
	return &redisSessionStorage{
		baseDao:       newBaseDao(conf),
		sessionEncDec: util.NewJsonEncoderDecoder[model.RunSession](),
	}
}

func (rs *redisSessionStorage) SaveSession(session *model.RunSession) error {
	key := rs.baseDao.getNamespaceKey(SESSION, session.Id)
	ctx := context.Background()
	data, err := rs.sessionEncDec.Encode(*session)
	if err != nil {
		return err
	}
	if err := rs.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisSessionStorage) GetSession(id string) (*model.RunSession, error) {
	key := rs.baseDao.getNamespaceKey(SESSION, id)
	ctx := context.Background()
	val, err := rs.redisClient.Get(ctx, key).Result()
	if err == rd.Nil {
		return nil, persistence.NotFoundError{Kind: "session", Name: id}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rs.sessionEncDec.Decode([]byte(val))
}

func (rs *redisSessionStorage) DeleteSession(id string) error {
	key := rs.baseDao.getNamespaceKey(SESSION, id)
	ctx := context.Background()
	if err := rs.redisClient.Del(ctx, key).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
