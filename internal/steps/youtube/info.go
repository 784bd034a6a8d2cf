// Package youtube extracts video metadata from YouTube watch pages.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// Config controls collector behavior and the outbound request throttle.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

const defaultUserAgent = "studylens-video-pipeline/1.0"

// InfoRunner implements the extract_info step by scraping the watch page.
// Outbound requests are throttled so a burst of admitted jobs cannot hammer
// the upstream site.
type InfoRunner struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// NewInfoRunner builds an InfoRunner.
func NewInfoRunner(cfg Config, logger *zap.Logger) *InfoRunner {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	return &InfoRunner{
		cfg:           cfg,
		baseCollector: c,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:        logger,
	}
}

// Run fetches the watch page for job.URL and fills state.Info.
func (r *InfoRunner) Run(ctx context.Context, job pipeline.Job, state *pipeline.StepState) error {
	videoID, err := VideoID(job.URL)
	if err != nil {
		return err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("await fetch slot: %w", err)
	}

	body, err := r.fetch(ctx, job.URL)
	if err != nil {
		return err
	}

	info, err := parseWatchPage(body)
	if err != nil {
		return err
	}
	if info.ThumbnailURL == "" {
		info.ThumbnailURL = fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", videoID)
	}
	state.Info = info
	return nil
}

func (r *InfoRunner) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	collector := r.baseCollector.Clone()
	collector.UserAgent = r.cfg.UserAgent
	collector.SetRequestTimeout(r.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(req *colly.Request) {
		select {
		case <-ctx.Done():
			req.Abort()
			fetchErr = ctx.Err()
		default:
		}
	})
	collector.OnResponse(func(resp *colly.Response) {
		body = resp.Body
	})
	collector.OnError(func(resp *colly.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fetchErr = fmt.Errorf("fetch watch page (status %d): %w", status, err)
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", pageURL, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, errors.New("watch page returned an empty body")
	}
	return body, nil
}

var (
	titleRe   = regexp.MustCompile(`"title"\s*:\s*("(?:[^"\\]|\\.)*")`)
	authorRe  = regexp.MustCompile(`"author"\s*:\s*("(?:[^"\\]|\\.)*")`)
	lengthRe  = regexp.MustCompile(`"lengthSeconds"\s*:\s*"(\d+)"`)
	videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{6,16}$`)
)

// parseWatchPage pulls title, author, and duration out of the embedded
// player JSON. YouTube changes its markup freely; the fields here are the
// ones that have stayed stable in the player response blob.
func parseWatchPage(body []byte) (pipeline.VideoInfo, error) {
	page := string(body)

	var info pipeline.VideoInfo
	if m := titleRe.FindStringSubmatch(page); m != nil {
		info.Title = decodeJSONString(m[1])
	}
	if m := authorRe.FindStringSubmatch(page); m != nil {
		info.Author = decodeJSONString(m[1])
	}
	m := lengthRe.FindStringSubmatch(page)
	if m == nil {
		return pipeline.VideoInfo{}, errors.New("watch page has no duration field")
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil || seconds <= 0 {
		return pipeline.VideoInfo{}, fmt.Errorf("invalid duration %q", m[1])
	}
	// Round up so a 61 second video bills as two minutes.
	info.DurationMinutes = (seconds + 59) / 60
	if info.Title == "" {
		return pipeline.VideoInfo{}, errors.New("watch page has no title field")
	}
	return info, nil
}

func decodeJSONString(quoted string) string {
	var s string
	if err := json.Unmarshal([]byte(quoted), &s); err != nil {
		return strings.Trim(quoted, `"`)
	}
	return s
}

// VideoID extracts the video identifier from a YouTube URL. Supported forms
// are watch?v=, youtu.be/, shorts/, and embed/ links.
func VideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse video url: %w", err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	var id string
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.TrimPrefix(u.Path, "/shorts/")
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		}
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	default:
		return "", fmt.Errorf("unsupported video host %q", u.Hostname())
	}

	id = strings.TrimSuffix(id, "/")
	if !videoIDRe.MatchString(id) {
		return "", fmt.Errorf("no video id in %q", rawURL)
	}
	return id, nil
}
