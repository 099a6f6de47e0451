package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "STORE_DRIVER", "DEFAULT_TAX_RATE", "PG_MAX_CONNS", "PROJECTOR_WORKERS"} {
		t.Setenv(k, "")
	}
	c := Load()

	assert.Equal(t, ":8081", c.HTTPAddr)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, "postgres", c.StoreDriver)
	assert.Equal(t, int32(8), c.PGMaxConns)
	assert.Equal(t, 4, c.ProjectorWorkers)
	assert.Equal(t, "19", c.DefaultTaxRate.String())
	assert.Equal(t, "default", c.DefaultPriceList)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("DEFAULT_TAX_RATE", "7.5")
	t.Setenv("PG_MAX_CONNS", "20")
	t.Setenv("PROJECTOR_WORKERS", "-3")

	c := Load()

	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, "memory", c.StoreDriver)
	assert.Equal(t, "7.5", c.DefaultTaxRate.String())
	assert.Equal(t, int32(20), c.PGMaxConns)
	assert.Equal(t, 4, c.ProjectorWorkers)
}

func TestLoadRejectsNegativeTaxRate(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "-1")
	assert.Equal(t, "19", Load().DefaultTaxRate.String())
}
