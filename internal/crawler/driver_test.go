package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-crawler/internal/models"
)

func TestDriverNavigation(t *testing.T) {
	const url = "https://www.coupang.com/vp/products/1"
	rec := models.InputRecord{URL: url, OriginalIndex: 1}

	tests := []struct {
		name        string
		script      *pageScript
		wantBlocked bool
		wantErrRow  bool
		wantGotos   int
		wantReloads int
	}{
		{"first try", &pageScript{html: productHTML("a", 100)}, false, false, 1, 0},
		{"recovers after timeout", &pageScript{gotoErrs: 1, html: productHTML("a", 100)}, false, false, 2, 1},
		{"gives up after three attempts", &pageScript{gotoErrs: 10}, false, true, 3, 2},
		{"server error retried then recorded", &pageScript{statuses: []int{500}, html: productHTML("a", 100)}, false, true, 3, 2},
		{"server error then ok", &pageScript{statuses: []int{502, 200}, html: productHTML("a", 100)}, false, false, 2, 1},
		{"403 is a block without retries", &pageScript{statuses: []int{403}, html: productHTML("a", 100)}, true, false, 1, 0},
		{"429 is a block", &pageScript{statuses: []int{429}, html: productHTML("a", 100)}, true, false, 1, 0},
		{"block page content", &pageScript{html: blockedHTML}, true, false, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.site.set(url, tt.script)
			br, err := h.launcher.Launch(context.Background(), 0)
			require.NoError(t, err)

			out, err := h.driver.Drive(context.Background(), br, rec, 11)
			require.NoError(t, err)

			assert.Equal(t, tt.wantBlocked, out.Blocked)
			if tt.wantBlocked {
				assert.Nil(t, out.Result)
				assert.NotEmpty(t, out.Reason)
				assert.Contains(t, h.snapshots.saved, 11)
			} else {
				require.NotNil(t, out.Result)
				assert.Equal(t, tt.wantErrRow, out.Result.HasError())
				assert.Equal(t, 1, out.Result.OriginalIndex)
			}
			assert.Equal(t, tt.wantGotos, h.site.gotoCalls(url))
			assert.Equal(t, tt.wantReloads, h.site.reloads[url])
		})
	}
}

func TestDriverCancelled(t *testing.T) {
	h := newHarness(t)
	recs := h.records(1)
	br, err := h.launcher.Launch(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.driver.Drive(ctx, br, recs[0], 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.site.gotoCalls(recs[0].URL))
}

func TestDriverCancelledWhileHumanizing(t *testing.T) {
	h := newHarness(t)
	h.driver.cfg.Humanize = true
	recs := h.records(1)
	br, err := h.launcher.Launch(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.site.humanize = func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	outcome, err := h.driver.Drive(ctx, br, recs[0], 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, outcome.Result, "no result recorded for an interrupted visit")
}
