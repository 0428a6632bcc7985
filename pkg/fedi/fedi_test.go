package fedi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(srv *httptest.Server) Options {
	return Options{Scheme: "http", Client: srv.Client(), Timeout: 2 * time.Second}
}

func domainOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestMastodonTrendsSumsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/trends/tags", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			{"name":"Cats","history":[{"uses":"12"},{"uses":"3"}]},
			{"name":"quiet","history":[]},
			{"name":"  ","history":[{"uses":"9"}]}
		]`))
	}))
	defer srv.Close()

	m := NewMastodon(domainOf(srv), testOptions(srv))
	tags, err := m.Trends(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []TrendTag{{Name: "Cats", Count: 15}, {Name: "quiet", Count: 1}}, tags)
}

func TestMastodonTimelineParsesPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/timelines/tag/cats", r.URL.Path)
		w.Write([]byte(`[{
			"id":"101","uri":"https://origin.example/users/a/statuses/101","url":"https://origin.example/@a/101",
			"created_at":"2026-10-01T10:00:00.000Z","sensitive":false,"spoiler_text":"",
			"content":"<p>my <b>cat</b></p>","tags":[{"name":"Cats"}],
			"media_attachments":[{"type":"video","url":"https://x/v.mp4"},{"type":"image","url":"https://local/i.png","remote_url":"https://origin.example/i.png","description":"a cat"}],
			"favourites_count":4,"reblogs_count":2,"replies_count":1
		}]`))
	}))
	defer srv.Close()

	m := NewMastodon(domainOf(srv), testOptions(srv))
	posts, err := m.TagTimeline(context.Background(), "#Cats", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	p := posts[0]
	assert.Equal(t, "https://origin.example/i.png", p.MediaURL)
	assert.Equal(t, "a cat", p.MediaAlt)
	assert.Equal(t, "origin.example", p.Origin)
	assert.Equal(t, 4+2*2+1, p.Engagement)
	assert.Equal(t, "my cat", p.Text)
	assert.Equal(t, []string{"cats"}, p.Tags)
}

func TestMastodonTimelineFallsBackToRSS(t *testing.T) {
	rss := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel><title>#cats</title>
<item>
  <guid>https://origin.example/@a/7</guid>
  <link>https://origin.example/@a/7</link>
  <description>&lt;p&gt;look&lt;/p&gt;</description>
  <category>cats</category>
  <media:content url="https://origin.example/7.jpg" type="image/jpeg" medium="image">
    <media:rating scheme="urn:simple">nonadult</media:rating>
    <media:description type="plain">sleepy cat</media:description>
  </media:content>
</item>
<item>
  <guid>https://origin.example/@a/8</guid>
  <link>https://origin.example/@a/8</link>
  <media:content url="https://origin.example/8.jpg" type="image/jpeg" medium="image">
    <media:rating scheme="urn:simple">adult</media:rating>
  </media:content>
</item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tags/cats.rss" {
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(rss))
			return
		}
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	opts := testOptions(srv)
	opts.RSSFallback = true
	m := NewMastodon(domainOf(srv), opts)

	posts, err := m.TagTimeline(context.Background(), "cats", 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "https://origin.example/7.jpg", posts[0].MediaURL)
	assert.Equal(t, "sleepy cat", posts[0].MediaAlt)
	assert.False(t, posts[0].Sensitive)
	assert.True(t, posts[1].Sensitive)
	assert.Zero(t, posts[0].Engagement)
}

func TestMastodonTimelineErrorWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMastodon(domainOf(srv), testOptions(srv))
	_, err := m.TagTimeline(context.Background(), "cats", 10)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
}

func TestMisskeyTrendsShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 3, body["limit"])
		w.Write([]byte(`["plain", {"tag":"charted","chart":[1,2,3]}, {"name":"counted","count":9}, {"hashtag":"zero","count":0}]`))
	}))
	defer srv.Close()

	m := NewMisskey(domainOf(srv), testOptions(srv))
	tags, err := m.Trends(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []TrendTag{
		{Name: "plain", Count: 1},
		{Name: "charted", Count: 6},
		{Name: "counted", Count: 9},
	}, tags)
}

func TestMisskeyTimelineFallsBackToSearch(t *testing.T) {
	var searched string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/notes/search-by-tag":
			http.Error(w, `{"error":{"code":"NO_SUCH_ENDPOINT"}}`, http.StatusNotFound)
		case "/api/notes/search":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			searched, _ = body["query"].(string)
			w.Write([]byte(`[{
				"id":"9xyz","uri":null,"url":null,"createdAt":"2026-10-01T10:00:00.000Z",
				"cw":null,"text":"dogs #dogs","tags":["Dogs"],
				"files":[{"type":"image/png","url":"https://m.example/f.png","isSensitive":false,"comment":"good dog"}],
				"renoteCount":3,"repliesCount":1,"reactions":{"👍":2,":heart:":5}
			}]`))
		}
	}))
	defer srv.Close()

	m := NewMisskey(domainOf(srv), testOptions(srv))
	posts, err := m.TagTimeline(context.Background(), "Dogs", 10)
	require.NoError(t, err)
	assert.Equal(t, "#dogs", searched)
	require.Len(t, posts, 1)

	p := posts[0]
	assert.Equal(t, srv.URL+"/notes/9xyz", p.URL)
	assert.Equal(t, srv.URL+"/notes/9xyz", p.URI)
	assert.Equal(t, domainOf(srv), p.Origin)
	assert.Equal(t, "https://m.example/f.png", p.MediaURL)
	assert.Equal(t, "good dog", p.MediaAlt)
	assert.Equal(t, 7+2*3+1, p.Engagement)
}

func TestPickMisskeyImageSkipsSensitive(t *testing.T) {
	u, alt := pickMisskeyImage([]misskeyFile{
		{IsSensitive: true, Type: "image/png", URL: "https://example/skip.png"},
		{Type: "image/jpeg", URL: "https://example/use.jpg", Comment: "alt-text"},
	})
	assert.Equal(t, "https://example/use.jpg", u)
	assert.Equal(t, "alt-text", alt)
}

func TestDetect(t *testing.T) {
	masto := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer masto.Close()

	misskey := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/hashtags/trend" && r.Method == http.MethodPost {
			w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer misskey.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>hello</html>`))
	}))
	defer dead.Close()

	ctx := context.Background()
	stack, err := Detect(ctx, domainOf(masto), testOptions(masto))
	require.NoError(t, err)
	assert.Equal(t, StackMastodon, stack)

	stack, err = Detect(ctx, domainOf(misskey), testOptions(misskey))
	require.NoError(t, err)
	assert.Equal(t, StackMisskey, stack)

	_, err = Detect(ctx, domainOf(dead), testOptions(dead))
	var ue *UnsupportedError
	assert.ErrorAs(t, err, &ue)
}

type memCache struct {
	stacks map[string]Stack
	puts   int
}

func (m *memCache) GetStack(_ context.Context, domain string, _ time.Duration) (Stack, bool, error) {
	s, ok := m.stacks[domain]
	return s, ok, nil
}

func (m *memCache) PutStack(_ context.Context, domain string, stack Stack) error {
	m.stacks[domain] = stack
	m.puts++
	return nil
}

func TestResolverUsesCache(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cache := &memCache{stacks: map[string]Stack{}}
	r := NewResolver(testOptions(srv), cache, time.Hour)

	s, err := r.Resolve(context.Background(), domainOf(srv))
	require.NoError(t, err)
	assert.Equal(t, StackMastodon, s.Stack())
	assert.Equal(t, 1, cache.puts)

	r2 := NewResolver(testOptions(srv), cache, time.Hour)
	s, err = r2.Resolve(context.Background(), domainOf(srv))
	require.NoError(t, err)
	assert.Equal(t, 1, probes)
	assert.Equal(t, StackMastodon, s.Stack())
}

func TestResolverSeedSkipsProbe(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	r := NewResolver(testOptions(srv), nil, time.Hour)
	r.Seed(domainOf(srv), StackMisskey)
	r.Seed("ignored.example", StackUnknown)

	s, err := r.Resolve(context.Background(), domainOf(srv))
	require.NoError(t, err)
	assert.Equal(t, StackMisskey, s.Stack())
	assert.Equal(t, 0, probes)
}

func TestFilter(t *testing.T) {
	f := NewFilter([]string{"gore"})

	assert.False(t, f.TagAllowed("#NSFW"))
	assert.False(t, f.TagAllowed("gore"))
	assert.True(t, f.TagAllowed("cats"))

	assert.True(t, f.TextUnsafe("very #lewd stuff"))
	assert.True(t, f.TextUnsafe("18+ only"))
	assert.False(t, f.TextUnsafe("adulthood is hard"))

	base := Post{MediaURL: "https://x/y.png", Text: "cute"}
	assert.True(t, f.Safe(base))

	cw := base
	cw.ContentWarning = "spoilers"
	assert.Equal(t, "content warning", f.Check(cw))

	sens := base
	sens.Sensitive = true
	assert.Equal(t, "sensitive media", f.Check(sens))

	tagged := base
	tagged.Tags = []string{"cats", "nsfw"}
	assert.Equal(t, "unsafe tag", f.Check(tagged))

	alt := base
	alt.MediaAlt = "NSFW drawing"
	assert.Equal(t, "unsafe keyword", f.Check(alt))
}

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "cats", NormalizeTag("  #Cats "))
	assert.Equal(t, "cats", NormalizeTag("##cats"))
}
