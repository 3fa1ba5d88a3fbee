package statuscheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/converter"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/store"
	"github.com/local/minerudispatch/internal/vision"
)

// RedisPinger is the broker capability needed for the queue check.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// GPUPool exposes the scheduler snapshot.
type GPUPool interface {
	Status() gpusched.Status
}

// Status is the readiness of one subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis       Status `json:"redis"`
	ObjectStore Status `json:"object_store"`
	LibreOffice Status `json:"libreoffice"`
	Vision      Status `json:"vision"`
	Scheduler   Status `json:"scheduler"`
}

// OK reports whether every subsystem is ready.
func (s Summary) OK() bool {
	return s.Redis.OK && s.ObjectStore.OK && s.LibreOffice.OK && s.Vision.OK && s.Scheduler.OK
}

// Checker aggregates readiness checks over the service's dependencies.
type Checker struct {
	redis    RedisPinger
	pool     GPUPool
	registry *vision.Registry
	storeCfg config.StoreConfig
}

// New builds a checker. Nil members report as unconfigured.
func New(redis RedisPinger, pool GPUPool, registry *vision.Registry, storeCfg config.StoreConfig) *Checker {
	return &Checker{redis: redis, pool: pool, registry: registry, storeCfg: storeCfg}
}

// Check probes every subsystem. Only the Redis check touches the
// network; the rest validate configuration and local binaries.
func (c *Checker) Check(ctx context.Context) Summary {
	return Summary{
		Redis:       c.checkRedis(ctx),
		ObjectStore: c.checkStore(),
		LibreOffice: checkLibreOffice(),
		Vision:      c.checkVision(),
		Scheduler:   c.checkScheduler(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{Message: "not configured"}
	}
	if err := c.redis.Ping(ctx); err != nil {
		return Status{Message: err.Error()}
	}
	return Status{OK: true, Message: "connected"}
}

func (c *Checker) checkStore() Status {
	if _, err := store.ParseEndpoint(c.storeCfg.Endpoint); err != nil {
		return Status{Message: err.Error()}
	}
	if c.storeCfg.AccessKey == "" || c.storeCfg.SecretKey == "" {
		return Status{Message: "no credentials configured"}
	}
	return Status{OK: true, Message: fmt.Sprintf("endpoint %s, bucket %s", c.storeCfg.Endpoint, c.storeCfg.Bucket)}
}

func checkLibreOffice() Status {
	bin, err := converter.LibreOfficeBinary()
	if err != nil {
		return Status{Message: err.Error()}
	}
	return Status{OK: true, Message: bin}
}

func (c *Checker) checkVision() Status {
	if c.registry == nil {
		return Status{Message: "not configured"}
	}
	var ready []string
	for _, p := range c.registry.Providers() {
		if p.Credentialed() {
			ready = append(ready, p.Name)
		}
	}
	if len(ready) == 0 {
		return Status{Message: "no credentialed providers"}
	}
	return Status{OK: true, Message: "providers: " + strings.Join(ready, ", ")}
}

func (c *Checker) checkScheduler() Status {
	if c.pool == nil {
		return Status{Message: "not configured"}
	}
	st := c.pool.Status()
	return Status{OK: true, Message: fmt.Sprintf("%d GPUs, %d pending", len(st.GPUs), st.TotalPending)}
}
