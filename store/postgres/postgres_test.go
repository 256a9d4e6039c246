package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/types"
)

// testConfig reads POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER,
// POSTGRES_PASSWORD and POSTGRES_DB over the defaults.
func testConfig() *Config {
	config := DefaultConfig()

	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		config.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		config.User = user
	}
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		config.Password = password
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		config.Database = db
	}
	return config
}

// openOrSkip returns a store bound to a prefix unique to the test.
func openOrSkip(t *testing.T) (store.Store, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, testConfig())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() {
		s.(*pgStore).Close()
	})
	return s, fmt.Sprintf("/data/%s-%d/", t.Name(), time.Now().UnixNano())
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	s, prefix := openOrSkip(t)
	ctx := context.Background()

	value, err := s.Get(ctx, prefix, "add/sum")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Set(ctx, prefix, "add/sum", []byte("8")))
	assert.Nil(t, s.Set(ctx, prefix, "add/sum", []byte("9")))

	value, err = s.Get(ctx, prefix, "add/sum")
	assert.Nil(t, err)
	assert.Equal(t, []byte("9"), value)

	binary := []byte{0x00, 0x01, 0xFF, 0xFE}
	assert.Nil(t, s.Set(ctx, prefix, "blob/out", binary))
	value, err = s.Get(ctx, prefix, "blob/out")
	assert.Nil(t, err)
	assert.Equal(t, binary, value)

	assert.Nil(t, s.Remove(ctx, prefix, "add/sum"))
	assert.Nil(t, s.Remove(ctx, prefix, "add/sum"))
	value, err = s.Get(ctx, prefix, "add/sum")
	assert.Nil(t, err)
	assert.Nil(t, value)

	s.Remove(ctx, prefix, "blob/out")
}

func TestPostgresStoreList(t *testing.T) {
	s, prefix := openOrSkip(t)
	ctx := context.Background()

	for _, key := range []string{"c/out", "a/out", "b/out"} {
		assert.Nil(t, s.Set(ctx, prefix, key, []byte(key)))
	}
	assert.Nil(t, s.Set(ctx, prefix+"other/", "a/out", []byte("x")))

	keys := make([]string, 0)
	assert.Nil(t, s.List(ctx, prefix, func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"a/out", "b/out", "c/out"}, keys)

	count := 0
	assert.Nil(t, s.List(ctx, prefix, func(key string) bool {
		count++
		return count < 2
	}))
	assert.Equal(t, 2, count)

	keys = keys[:0]
	assert.Nil(t, s.List(ctx, prefix+"missing/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, 0, len(keys))

	for _, key := range []string{"a/out", "b/out", "c/out"} {
		s.Remove(ctx, prefix, key)
	}
	s.Remove(ctx, prefix+"other/", "a/out")
}

func TestConfigValidate(t *testing.T) {
	assert.Nil(t, DefaultConfig().Validate())

	broken := []func(c *Config){
		func(c *Config) { c.Host = "" },
		func(c *Config) { c.Port = 0 },
		func(c *Config) { c.Port = 70000 },
		func(c *Config) { c.User = "" },
		func(c *Config) { c.Database = "" },
		func(c *Config) { c.SSLMode = "invalid" },
	}
	for i, mutate := range broken {
		config := DefaultConfig()
		mutate(config)
		assert.NotNil(t, config.Validate(), "case %d", i)
	}

	config := DefaultConfig()
	config.SSLMode = ""
	assert.Nil(t, config.Validate())
	assert.Equal(t, "disable", config.SSLMode)
}

func TestConfigDSN(t *testing.T) {
	config := &Config{
		Host:     "db.internal",
		Port:     6543,
		User:     "dag",
		Password: "secret",
		Database: "runs",
		SSLMode:  "require",
	}
	assert.Equal(t, "host=db.internal port=6543 user=dag password=secret dbname=runs sslmode=require", config.DSN())

	parsed, err := ParseDSN(config.DSN())
	assert.Nil(t, err)
	assert.Equal(t, config, parsed)
}

func TestParseDSNKeepsDefaults(t *testing.T) {
	config, err := ParseDSN("host=example.com malformed")
	assert.Nil(t, err)
	assert.Equal(t, "example.com", config.Host)
	assert.Equal(t, 5432, config.Port)
	assert.Equal(t, "dagflow", config.Database)

	_, err = ParseDSN("sslmode=bogus")
	assert.NotNil(t, err)
}

func TestFromOptions(t *testing.T) {
	assert.Equal(t, DefaultConfig(), FromOptions(nil))

	opts := &types.PostgresConfig{
		Host:     "pg",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "d",
		SSLMode:  "verify-full",
	}
	config := FromOptions(opts)
	assert.Equal(t, "host=pg port=5433 user=u password=p dbname=d sslmode=verify-full", config.DSN())
}

func TestNewPostgresStoreWithNilDB(t *testing.T) {
	_, err := NewPostgresStoreWithDB(context.Background(), nil)
	assert.NotNil(t, err)
}
