package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInit_DefaultsAndEnv(t *testing.T) {
	t.Setenv("CHAIN_RPC_URL", "http://127.0.0.1:7545")
	t.Setenv("TRACKER_MAX_ATTEMPTS", "3")

	Init()

	assert.Equal(t, "http://127.0.0.1:7545", Global.Chain.RpcUrl)
	assert.Equal(t, 10*time.Second, Global.Chain.RpcTimeout)
	assert.Equal(t, 5*time.Second, Global.Tracker.PollInterval)
	assert.Equal(t, 3, Global.Tracker.MaxAttempts)
	assert.Equal(t, "redis", Global.Redis.MQType)
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "wallet"}

	assert.Equal(t, "host=db user=u password=p dbname=wallet port=5432 sslmode=disable TimeZone=UTC", c.DSN())
	assert.Equal(t, "postgres://u:p@db:5432/wallet?sslmode=disable", c.URL())
}
