package extract

import (
	"fmt"
	"log/slog"
	"strings"
)

var blockingStatuses = map[int]bool{403: true, 429: true, 503: true}

var blockPhrases = []string{
	"access denied",
	"액세스가 차단되었습니다",
	"비정상적인 접근",
	"차단되었습니다",
	"권한이 없습니다",
	"서비스 이용에 불편을 드려",
	"비정상적인 트래픽",
}

var suspiciousTitleWords = []string{"로봇", "차단", "접근 제한"}

// IsBlockingStatus reports whether an HTTP status alone means the site refused us.
func IsBlockingStatus(status int) bool {
	return blockingStatuses[status]
}

type Verdict struct {
	Blocked bool
	Reason  string
}

type Detector struct {
	indicators []string
	logger     *slog.Logger
}

// NewDetector uses indicators as the elements a real product page always has.
func NewDetector(indicators []string, logger *slog.Logger) *Detector {
	return &Detector{
		indicators: indicators,
		logger:     logger.With("component", "block_detector"),
	}
}

// Detect checks, in order: the response status, block phrases in the markup,
// missing page indicators (half or more) and the page title.
// Errors reading the page count as missing, never as blocked on their own.
func (d *Detector) Detect(page Page, status int) Verdict {
	if IsBlockingStatus(status) {
		return d.blocked(fmt.Sprintf("status %d", status))
	}

	html, err := page.Content()
	if err != nil {
		d.logger.Error("failed to read page content", "error", err)
	} else {
		lower := strings.ToLower(html)
		for _, phrase := range blockPhrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return d.blocked(fmt.Sprintf("phrase %q", phrase))
			}
		}
	}

	if len(d.indicators) > 0 {
		missing := 0
		for _, sel := range d.indicators {
			n, err := page.Count(sel)
			if err != nil || n == 0 {
				missing++
			}
		}
		if missing*2 >= len(d.indicators) {
			return d.blocked(fmt.Sprintf("%d/%d page indicators missing", missing, len(d.indicators)))
		}
	}

	title, err := page.Title()
	if err == nil {
		for _, word := range suspiciousTitleWords {
			if strings.Contains(title, word) {
				return d.blocked(fmt.Sprintf("suspicious title %q", title))
			}
		}
	}

	return Verdict{}
}

func (d *Detector) blocked(reason string) Verdict {
	d.logger.Warn("block detected", "reason", reason)
	return Verdict{Blocked: true, Reason: reason}
}
