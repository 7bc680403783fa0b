package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-scraper/pkg/types"
)

func TestHarvestStopsAfterStallLimit(t *testing.T) {
	page := newStaticPage("<html><body></body></html>", []string{overlayHTML(5), overlayHTML(10), overlayHTML(15)})
	h := NewHarvester(testConfig(), testLogger)

	var states []HarvestState
	h.OnState = func(s HarvestState) { states = append(states, s) }

	refs, err := h.Harvest(context.Background(), page, types.EngagementSource{Index: 0, AuthorName: "Alice"}, 50)
	require.NoError(t, err)

	// 5, 10, 15 grow; then three flat measurements stop the loop.
	assert.Equal(t, 5, page.scrolls)
	assert.Len(t, refs, 15)
	assert.Equal(t, "Person 1", refs[0].Name)
	assert.Equal(t, "https://www.linkedin.com/in/person-1/", refs[0].ProfileURL)
	assert.Equal(t, []string{`[data-like-index="0"]`}, page.clicks)
	assert.Equal(t, 1, page.dismissed)
	assert.Equal(t, []HarvestState{
		HarvestIdle, HarvestTriggering, HarvestWaitingForOverlay,
		HarvestScrolling, HarvestExtracting, HarvestDone,
	}, states)
}

func TestHarvestStopsAtTarget(t *testing.T) {
	page := newStaticPage("<html><body></body></html>", []string{overlayHTML(5), overlayHTML(10), overlayHTML(15)})
	h := NewHarvester(testConfig(), testLogger)

	refs, err := h.Harvest(context.Background(), page, types.EngagementSource{}, 8)
	require.NoError(t, err)

	assert.Equal(t, 1, page.scrolls)
	assert.Len(t, refs, 8)
}

func TestHarvestNoOverlay(t *testing.T) {
	page := newStaticPage("<html><body></body></html>", nil)
	h := NewHarvester(testConfig(), testLogger)

	var last HarvestState
	h.OnState = func(s HarvestState) { last = s }

	_, err := h.Harvest(context.Background(), page, types.EngagementSource{}, 10)
	require.ErrorIs(t, err, ErrNoOverlay)
	assert.Equal(t, HarvestFailed, last)
	assert.Zero(t, page.dismissed)
}

func TestHarvestEmptyOverlay(t *testing.T) {
	page := newStaticPage("<html><body></body></html>", []string{overlayHTML(0)})
	h := NewHarvester(testConfig(), testLogger)

	_, err := h.Harvest(context.Background(), page, types.EngagementSource{}, 10)
	require.ErrorIs(t, err, ErrExtractionEmpty)
	assert.Equal(t, 1, page.dismissed, "overlay is dismissed on failure too")
}

func TestExtractIdentitiesDeduplicates(t *testing.T) {
	doc := parseHTML(t, `<div role="dialog"><ul>
		<li><a href="/in/jane-doe/?trk=a"></a></li>
		<li><a href="https://www.linkedin.com/in/jane-doe?trk=b"><span class="artdeco-entity-lockup__title">Jane Doe</span></a></li>
		<li><a href="/in/john-roe-42/" aria-label="John Roe"></a></li>
		<li><a href="/in/ACoAAB12/?miniProfileUrn=x">Hidden</a></li>
		<li><a href="/company/acme/">Acme</a></li>
	</ul></div>`)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	refs := ExtractIdentities(doc, "https://www.linkedin.com", now)
	require.Len(t, refs, 2)
	assert.Equal(t, types.IdentityReference{Name: "Jane Doe", ProfileURL: "https://www.linkedin.com/in/jane-doe/", DiscoveredAt: now}, refs[0])
	assert.Equal(t, "John Roe", refs[1].Name)
	assert.Equal(t, "https://www.linkedin.com/in/john-roe-42/", refs[1].ProfileURL)
}

func TestHarvestStateString(t *testing.T) {
	assert.Equal(t, "waiting_for_overlay", HarvestWaitingForOverlay.String())
	assert.Equal(t, "done", HarvestDone.String())
}
