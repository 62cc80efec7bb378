package worker

import (
	"strings"
	"time"
	"unicode/utf8"

	"brandclip-worker-service/internal/entity"
)

// maxTitleRunes is the platform's caption limit.
const maxTitleRunes = 2200

// renderTitle fills {{title}} and {{date}} in the design spec's title template and appends
// the hashtags, trimmed to the platform limit.
func renderTitle(hints entity.UploadHints, videoTitle string, now time.Time) string {
	title := strings.NewReplacer(
		"{{title}}", videoTitle,
		"{{date}}", now.Format("2006-01-02"),
	).Replace(hints.TitleTemplate)
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(videoTitle)
	}

	var tags []string
	for _, h := range hints.Hashtags {
		h = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(h), "#"))
		if h == "" || strings.ContainsAny(h, " \t") {
			continue
		}
		tags = append(tags, "#"+h)
	}
	if len(tags) > 0 {
		title = strings.TrimSpace(title + " " + strings.Join(tags, " "))
	}

	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}

// postURL prefers the share URL from finalize, then a URL built from the
// public post id, then the creator's profile.
func postURL(shareURL, username string, publicIDs []string) string {
	if shareURL != "" {
		return shareURL
	}
	username = strings.TrimPrefix(username, "@")
	if username == "" {
		return "https://www.tiktok.com"
	}
	if len(publicIDs) > 0 && publicIDs[0] != "" {
		return "https://www.tiktok.com/@" + username + "/video/" + publicIDs[0]
	}
	return "https://www.tiktok.com/@" + username
}
