package youtube

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVideoID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "watch url", url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "short link", url: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "shorts", url: "https://www.youtube.com/shorts/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "embed", url: "https://www.youtube.com/embed/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "mobile host", url: "https://m.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "other host", url: "https://vimeo.com/12345", wantErr: true},
		{name: "missing id", url: "https://www.youtube.com/watch", wantErr: true},
		{name: "not a url", url: "://nope", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := VideoID(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseWatchPage(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><script>var ytInitialPlayerResponse = {"videoDetails":{` +
		`"videoId":"dQw4w9WgXcQ","title":"Intro to Graph Theory — Lecture 1",` +
		`"lengthSeconds":"754","author":"Example University"}};</script></html>`)

	info, err := parseWatchPage(page)
	require.NoError(t, err)
	require.Equal(t, "Intro to Graph Theory — Lecture 1", info.Title)
	require.Equal(t, "Example University", info.Author)
	require.Equal(t, 13, info.DurationMinutes, "754 seconds rounds up to 13 minutes")
}

func TestParseWatchPageMissingDuration(t *testing.T) {
	t.Parallel()

	_, err := parseWatchPage([]byte(`{"title":"No Duration Here"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duration")
}

func TestParseWatchPageMissingTitle(t *testing.T) {
	t.Parallel()

	_, err := parseWatchPage([]byte(`{"lengthSeconds":"60"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "title")
}

func TestParseWatchPageRoundsUpShortVideo(t *testing.T) {
	t.Parallel()

	info, err := parseWatchPage([]byte(`{"title":"Short","lengthSeconds":"61"}`))
	require.NoError(t, err)
	require.Equal(t, 2, info.DurationMinutes)
}
