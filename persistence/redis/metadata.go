package redis

import (
	"context"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/model"
	"github.com/avovello/stagerun/persistence"
	"github.com/avovello/stagerun/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const WORKFLOW_DEF string = "WORKFLOW"
const CAPABILITY_DEF string = "CAPABILITY"

type redisMetadataStorage struct {
	*baseDao
	workflowEncDec   util.EncoderDecoder[model.WorkflowDefinition]
	capabilityEncDec util.EncoderDecoder[model.CapabilityDefinition]
}

var _ persistence.MetadataStorage = new(redisMetadataStorage)

func NewRedisMetadataStorage(conf Config) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:          newBaseDao(conf),
		workflowEncDec:   util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
		capabilityEncDec: util.NewJsonEncoderDecoder[model.CapabilityDefinition](),
	}
}

func (rm *redisMetadataStorage) SaveWorkflowDefinition(def model.WorkflowDefinition) error {
	key := rm.baseDao.getNamespaceKey(WORKFLOW_DEF, def.Name)
	ctx := context.Background()
	data, err := rm.workflowEncDec.Encode(def)
	if err != nil {
		return err
	}
	if err := rm.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rm *redisMetadataStorage) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	key := rm.baseDao.getNamespaceKey(WORKFLOW_DEF, name)
	ctx := context.Background()
	val, err := rm.redisClient.Get(ctx, key).Result()
	if err == rd.Nil {
		return nil, persistence.NotFoundError{Kind: "workflow", Name: name}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rm.workflowEncDec.Decode([]byte(val))
}

func (rm *redisMetadataStorage) DeleteWorkflowDefinition(name string) error {
	key := rm.baseDao.getNamespaceKey(WORKFLOW_DEF, name)
	ctx := context.Background()
	if err := rm.redisClient.Del(ctx, key).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rm *redisMetadataStorage) SaveCapabilityDefinition(cap model.CapabilityDefinition) error {
	data, err := rm.capabilityEncDec.Encode(cap)
	if err != nil {
		return err
	}
	key := rm.baseDao.getNamespaceKey(CAPABILITY_DEF)
	ctx := context.Background()
	if err := rm.redisClient.HSet(ctx, key, []string{cap.Name, string(data)}).Err(); err != nil {
		logger.Error("error in saving capability definition", zap.String("capability", cap.Name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rm *redisMetadataStorage) GetCapabilityDefinition(name string) (*model.CapabilityDefinition, error) {
	key := rm.baseDao.getNamespaceKey(CAPABILITY_DEF)
	ctx := context.Background()
	capStr, err := rm.redisClient.HGet(ctx, key, name).Result()
	if err == rd.Nil {
		return nil, persistence.NotFoundError{Kind: "capability", Name: name}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rm.capabilityEncDec.Decode([]byte(capStr))
}

func (rm *redisMetadataStorage) DeleteCapabilityDefinition(name string) error {
	key := rm.baseDao.getNamespaceKey(CAPABILITY_DEF)
	ctx := context.Background()
	if err := rm.redisClient.HDel(ctx, key, name).Err(); err != nil {
		logger.Error("error in deleting capability definition", zap.String("capability", name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
