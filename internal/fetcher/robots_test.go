package fetcher

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRobots_WildcardGroupDisallow(t *testing.T) {
	body := "User-agent: *\nDisallow: /private\nDisallow: /admin\n"
	rules := parseRobots(body)
	assert.False(t, rules.allows("/private/x"))
	assert.False(t, rules.allows("/admin"))
	assert.True(t, rules.allows("/tunes/1"))
}

func TestParseRobots_IgnoresOtherAgentGroups(t *testing.T) {
	body := "User-agent: GoogleBot\nDisallow: /\nUser-agent: *\nDisallow: /secret\n"
	rules := parseRobots(body)
	assert.True(t, rules.allows("/tunes/1"))
	assert.False(t, rules.allows("/secret"))
}

func TestParseRobots_NoGroupsIsPermissive(t *testing.T) {
	rules := parseRobots("# just a comment\n")
	assert.True(t, rules.allows("/anything"))
}

func TestCanFetch_DisallowedPathBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
	}))
	defer server.Close()

	c := newRobotsCache(time.Second, time.Minute)
	assert.False(t, c.CanFetch(server.URL+"/blocked/page"))
	assert.True(t, c.CanFetch(server.URL+"/ok"))
}

func TestCanFetch_FetchFailureIsPermissive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newRobotsCache(time.Second, time.Minute)
	assert.True(t, c.CanFetch(server.URL+"/anything"))
}

func TestCanFetch_InvalidURLIsPermissive(t *testing.T) {
	c := newRobotsCache(time.Second, time.Minute)
	assert.True(t, c.CanFetch("://not-a-url"))
}

func TestCanFetch_CachesWithinTTL(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
	}))
	defer server.Close()

	c := newRobotsCache(time.Second, time.Minute)
	require.True(t, c.CanFetch(server.URL + "/ok"))
	require.True(t, c.CanFetch(server.URL + "/ok-again"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCanFetch_RefetchesAfterTTLExpires(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("User-agent: *\n"))
	}))
	defer server.Close()

	c := newRobotsCache(time.Second, 10*time.Millisecond)
	require.True(t, c.CanFetch(server.URL + "/ok"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, c.CanFetch(server.URL + "/ok"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
