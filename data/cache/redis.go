package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/utils"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps the derived portfolio view hot for reads. Settlement
// flushes both parties after mutating the store; nothing here is ever
// consulted for transfer eligibility.
type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func portfolioKey(userID string) string {
	return fmt.Sprintf("portfolio:%s", userID)
}

func (r *RedisCache) SetPortfolio(ctx context.Context, portfolio model.Portfolio) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetPortfolio start", slog.String("rqID", rqID), slog.String("userID", portfolio.UserID))

	portfolioJson, err := json.Marshal(portfolio)
	if err != nil {
		slog.Error(
			"can't marshall portfolio in SetPortfolio",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.Any("portfolio", portfolio),
		)
		return errors.New("can't marshall portfolio")
	}

	_, err = r.redis.Set(ctx, portfolioKey(portfolio.UserID), portfolioJson, r.cfg.Cache.PortfolioExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("SetPortfolio completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetPortfolio start", slog.String("rqID", rqID), slog.String("userID", userID))

	res, err := r.redis.Get(ctx, portfolioKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("userID", userID))
		}
		return model.Portfolio{}, err
	}

	portfolio := model.Portfolio{}
	err = json.Unmarshal([]byte(res), &portfolio)
	if err != nil {
		slog.Error(
			"can't unmarshall portfolio in GetPortfolio",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return model.Portfolio{}, errors.New("can't unmarshall portfolio")
	}

	slog.Debug("GetPortfolio finished", slog.String("rqID", rqID))

	return portfolio, nil
}

func (r *RedisCache) FlushPortfolios(ctx context.Context, userIDs ...string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("FlushPortfolios start", slog.String("rqID", rqID), slog.Any("userIDs", userIDs))

	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, portfolioKey(userID))
	}

	_, err := r.redis.Del(ctx, keys...).Result()
	if err != nil {
		slog.Error("failed on redis.Del", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("FlushPortfolios completed", slog.String("rqID", rqID))

	return nil
}
