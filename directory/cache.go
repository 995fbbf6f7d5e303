package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-engine/leave"
)

// Cache is a leave.ActorDirectory that keeps resolved actors for a TTL.
// Concurrent misses for the same id share one lookup. Failed lookups are
// not cached, so a new employee is visible on the next request.
type Cache struct {
	next   leave.ActorDirectory
	actors *expirable.LRU[leave.UserID, leave.Actor]
	group  singleflight.Group
	logger *zap.Logger
}

var _ leave.ActorDirectory = (*Cache)(nil)

// NewCache wraps next with an LRU of at most size actors, each kept for ttl.
func NewCache(next leave.ActorDirectory, size int, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		next:   next,
		actors: expirable.NewLRU[leave.UserID, leave.Actor](size, nil, ttl),
		logger: logger.Named("directory.cache"),
	}
}

func (c *Cache) Resolve(ctx context.Context, id leave.UserID) (leave.Actor, error) {
	if actor, ok := c.actors.Get(id); ok {
		return actor, nil
	}

	v, err, shared := c.group.Do(string(id), func() (any, error) {
		actor, err := c.next.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		c.actors.Add(id, actor)
		return actor, nil
	})
	if err != nil {
		return leave.Actor{}, err
	}
	if shared {
		c.logger.Debug("actor lookup shared", zap.String("actor_id", string(id)))
	}
	return v.(leave.Actor), nil
}

// Invalidate drops id so its next Resolve reads the source again.
func (c *Cache) Invalidate(id leave.UserID) {
	c.actors.Remove(id)
}

// Len is the number of cached actors, expired ones included until evicted.
func (c *Cache) Len() int {
	return c.actors.Len()
}
