package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserToQueue(t *testing.T) {
	rules := parseUserToQueue("alice=queue-a,PARALLEL:bob=queue-b,SERIAL:carol=queue-c")
	require.Len(t, rules, 3)

	assert.Equal(t, QueueRule{Kind: "", User: "alice", Queue: "queue-a"}, rules[0])
	assert.Equal(t, QueueRule{Kind: "PARALLEL", User: "bob", Queue: "queue-b"}, rules[1])
	assert.Equal(t, QueueRule{Kind: "SERIAL", User: "carol", Queue: "queue-c"}, rules[2])
}

func TestParseUserToQueueEmpty(t *testing.T) {
	assert.Nil(t, parseUserToQueue(""))
}

func TestParseNestedMap(t *testing.T) {
	got := parseNestedMap("prod:opm=v1,baseline=v2;stage:opm=v1-stage")
	want := map[string]map[string]string{
		"prod":  {"opm": "v1", "baseline": "v2"},
		"stage": {"opm": "v1-stage"},
	}
	assert.Equal(t, want, got)
}

func TestParseTokenMap(t *testing.T) {
	got := parseTokenMap("https://gitlab.example.com=ci-bot:s3cr3t")
	want := map[string][2]string{
		"https://gitlab.example.com": {"ci-bot", "s3cr3t"},
	}
	assert.Equal(t, want, got)
}

func TestValidateRejectsUnknownBinaryImageOuterKey(t *testing.T) {
	c := &Config{
		MaxPerPage:        20,
		RequestLogsDir:    "/var/log/iib",
		DogpileBackend:    "memory",
		BinaryImageConfig: map[string]map[string]string{"qa": {"opm": "v1"}},
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outer key")
}

func TestValidateRejectsBothLogStores(t *testing.T) {
	c := &Config{
		MaxPerPage:      20,
		RequestLogsDir:  "/var/log/iib",
		AWSS3BucketName: "iib-logs",
		DogpileBackend:  "memory",
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidateRequiresALogStore(t *testing.T) {
	c := &Config{
		MaxPerPage:     20,
		DogpileBackend: "memory",
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set so request logs have somewhere to live")
}

func TestValidateRequiresCacheRepositoryWhenImagestreamCacheEnabled(t *testing.T) {
	c := &Config{
		MaxPerPage:          20,
		RequestLogsDir:      "/var/log/iib",
		DogpileBackend:      "memory",
		UseImagestreamCache: true,
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iib_index_db_cache_repository is not set")
}

func TestValidateAcceptsImagestreamCacheWithRepository(t *testing.T) {
	c := &Config{
		MaxPerPage:             20,
		RequestLogsDir:         "/var/log/iib",
		DogpileBackend:         "memory",
		UseImagestreamCache:    true,
		IndexDBCacheRepository: "quay.io/acme/iib-index-db-cache",
	}
	assert.NoError(t, Validate(c))
}

func TestValidateRejectsUnknownDogpileBackend(t *testing.T) {
	c := &Config{
		MaxPerPage:     20,
		RequestLogsDir: "/var/log/iib",
		DogpileBackend: "memcached",
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory or redis")
}

func TestValidateRejectsMessagingWithoutCertificates(t *testing.T) {
	c := &Config{
		MaxPerPage:     20,
		RequestLogsDir: "/var/log/iib",
		DogpileBackend: "memory",
		MessagingURLs:  []string{"wss://messaging.example.com:61617"},
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mTLS")
}

func TestValidateRejectsGreenwaveConfigForUnknownQueue(t *testing.T) {
	c := &Config{
		MaxPerPage:      20,
		RequestLogsDir:  "/var/log/iib",
		DogpileBackend:  "memory",
		GreenwaveConfig: map[string]string{"nonexistent-queue": "https://greenwave.example.com"},
	}
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestValidateAcceptsDefaultQueueGreenwaveConfig(t *testing.T) {
	c := &Config{
		MaxPerPage:      20,
		RequestLogsDir:  "/var/log/iib",
		DogpileBackend:  "memory",
		GreenwaveConfig: map[string]string{"default": "https://greenwave.example.com"},
	}
	assert.NoError(t, Validate(c))
}
