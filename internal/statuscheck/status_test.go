package statuscheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/gpusched"
	"github.com/local/minerudispatch/internal/vision"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type pool struct{ st gpusched.Status }

func (p pool) Status() gpusched.Status { return p.st }

func TestCheckUnconfigured(t *testing.T) {
	c := New(nil, nil, nil, config.StoreConfig{})
	sum := c.Check(context.Background())

	assert.False(t, sum.OK())
	assert.False(t, sum.Redis.OK)
	assert.Equal(t, "not configured", sum.Redis.Message)
	assert.False(t, sum.Vision.OK)
	assert.False(t, sum.Scheduler.OK)
}

func TestCheckRedis(t *testing.T) {
	c := New(pinger{}, nil, nil, config.StoreConfig{})
	assert.True(t, c.Check(context.Background()).Redis.OK)

	c = New(pinger{err: assert.AnError}, nil, nil, config.StoreConfig{})
	st := c.Check(context.Background()).Redis
	assert.False(t, st.OK)
	assert.Equal(t, assert.AnError.Error(), st.Message)
}

func TestCheckStore(t *testing.T) {
	cfg := config.StoreConfig{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "mineru"}
	st := New(nil, nil, nil, cfg).Check(context.Background()).ObjectStore
	assert.True(t, st.OK)
	assert.Contains(t, st.Message, "bucket mineru")

	cfg.AccessKey = ""
	st = New(nil, nil, nil, cfg).Check(context.Background()).ObjectStore
	assert.False(t, st.OK)
	assert.Equal(t, "no credentials configured", st.Message)
}

func TestCheckVisionProviders(t *testing.T) {
	t.Setenv("VISION_API_KEY_OPENAI", "sk-test")
	t.Setenv("GEMINI_API_KEY", "")
	reg := vision.NewRegistry([]string{"openai", "gemini"})

	st := New(nil, nil, reg, config.StoreConfig{}).Check(context.Background()).Vision
	assert.True(t, st.OK)
	assert.Equal(t, "providers: openai", st.Message)
}

func TestCheckScheduler(t *testing.T) {
	p := pool{st: gpusched.Status{GPUs: []gpusched.GPUStatus{{GPUID: "0", Pending: 3}}, TotalPending: 3}}
	st := New(nil, p, nil, config.StoreConfig{}).Check(context.Background()).Scheduler
	assert.True(t, st.OK)
	assert.Equal(t, "1 GPUs, 3 pending", st.Message)
}
