package changestream

import (
	"context"
	"errors"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/tablesync-backend/pkg/redis"
)

// New picks the stream driver from the feature flags. The memory driver only
// reaches subscribers inside the same process.
func New(flags config.FeatureFlagsConfig, client *pkgredis.Client, logg *logger.Logger) (Stream, error) {
	if flags.UseMemoryChangeStream() {
		if logg != nil {
			logg.Warn(context.Background(), "using in-process change stream; realtime updates will not cross instances")
		}
		return NewMemoryStream(), nil
	}
	if client == nil {
		return nil, errors.New("redis client required for redis change stream")
	}
	return NewRedisStream(client, logg), nil
}
