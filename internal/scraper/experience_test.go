package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractExperienceStrategies(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Experience
	}{
		{
			name: "aria-hidden-pair",
			html: `<section id="experience"><ul><li>
				<span aria-hidden="true">Staff Engineer</span>
				<span aria-hidden="true">Globex Corporation · Full-time</span>
			</li></ul></section>`,
			want: Experience{JobTitle: "Staff Engineer", Company: "Globex Corporation · Full-time", Strategy: "aria-hidden-pair"},
		},
		{
			name: "flex-pair",
			html: `<section aria-label="Experience"><ul><li>
				<div class="display-flex"><span>Data Analyst</span><span>Umbrella Group</span></div>
			</li></ul></section>`,
			want: Experience{JobTitle: "Data Analyst", Company: "Umbrella Group", Strategy: "flex-pair"},
		},
		{
			name: "bold-lead",
			html: `<section id="experience"><ul><li>
				<div><strong>Account Executive</strong><span>Vandelay Industries</span></div>
			</li></ul></section>`,
			want: Experience{JobTitle: "Account Executive", Company: "Vandelay Industries", Strategy: "bold-lead"},
		},
		{
			name: "date-anchor",
			html: `<section aria-label="Experience"><div class="pvs-entity">
				<p>Product Manager</p><p>Initech</p><p>2019 - Present</p>
			</div></section>`,
			want: Experience{JobTitle: "Product Manager", Company: "Initech", Strategy: "date-anchor"},
		},
		{
			name: "block-pattern swaps pipe order",
			html: `<section id="experience"><ul><li><p>Initech | Product Manager</p></li></ul></section>`,
			want: Experience{JobTitle: "Product Manager", Company: "Initech", Strategy: "block-pattern"},
		},
		{
			name: "company-link",
			html: `<section id="experience"><ul><li>
				<a href="/company/initech/">Initech</a><span>Designer</span>
			</li></ul></section>`,
			want: Experience{JobTitle: "Designer", Company: "Initech", Strategy: "company-link"},
		},
		{
			name: "first-fragments",
			html: `<section id="experience"><ul><li><span>Chef</span><span>Le Bistro</span></li></ul></section>`,
			want: Experience{JobTitle: "Chef", Company: "Le Bistro", Strategy: "first-fragments"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractExperience(parseHTML(t, "<html><body><main>"+tt.html+"</main></body></html>"))
			require.True(t, ok)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractExperience() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractExperienceHeadingSection(t *testing.T) {
	doc := parseHTML(t, `<html><body><main>
		<section><h2>About</h2><p>Hello</p></section>
		<section><h2>Experience</h2><ul><li>Engineer at Hooli</li></ul></section>
	</main></body></html>`)

	got, ok := ExtractExperience(doc)
	require.True(t, ok)
	assert.Equal(t, "Engineer", got.JobTitle)
	assert.Equal(t, "Hooli", got.Company)
	assert.Equal(t, "block-pattern", got.Strategy)
}

func TestExtractExperienceMissing(t *testing.T) {
	_, ok := ExtractExperience(parseHTML(t, `<html><body><main><p>Nothing to see</p></main></body></html>`))
	assert.False(t, ok)
}

func TestResolvePosition(t *testing.T) {
	tests := []struct {
		name  string
		card  TopCard
		want  Position
		needs bool
	}{
		{
			name: "clean headline",
			card: TopCard{Headline: "Senior Engineer at Acme Robotics Inc"},
			want: Position{JobTitle: "Senior Engineer", Company: "Acme Robotics Inc"},
		},
		{
			name:  "employment type is not a company",
			card:  TopCard{Headline: "Growth · Full-time"},
			want:  Position{JobTitle: "Growth"},
			needs: true,
		},
		{
			name: "current company control wins",
			card: TopCard{Headline: "Engineer at Globex Corporation", CurrentCompany: "Acme Inc · Full-time"},
			want: Position{JobTitle: "Engineer", Company: "Acme Inc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolvePosition(tt.card)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.needs, got.NeedsExperience())
		})
	}
}

func TestMergeExperienceAndFinalize(t *testing.T) {
	p := MergeExperience(Position{JobTitle: "Growth"}, Experience{JobTitle: "Head of Growth", Company: "Acme Inc · Full-time"})
	assert.Equal(t, Position{JobTitle: "Growth", Company: "Acme Inc"}, p)

	p = MergeExperience(Position{}, Experience{JobTitle: "Not specified", Company: "--"})
	assert.Equal(t, Position{JobTitle: "Not specified", Company: "Not specified"}, p.Finalize())

	p = Position{JobTitle: "Engineer at Acme", Company: "Acme"}.Finalize()
	assert.Equal(t, Position{JobTitle: "Engineer", Company: "Acme"}, p)
}

func TestParseTopCard(t *testing.T) {
	doc := parseHTML(t, profileHTML("Jane Doe", "Senior Engineer at Acme Robotics Inc",
		`<button aria-label="Current company: Acme Robotics Inc. Click to skip to experience card">Acme Robotics Inc</button>`))
	card := ParseTopCard(doc)
	assert.Equal(t, TopCard{Name: "Jane Doe", Headline: "Senior Engineer at Acme Robotics Inc", CurrentCompany: "Acme Robotics Inc"}, card)

	doc = parseHTML(t, `<html><head><meta property="og:title" content="John Roe | LinkedIn"></head><body></body></html>`)
	assert.Equal(t, "John Roe", ParseTopCard(doc).Name)

	doc = parseHTML(t, `<html><head><title>Mary Major | LinkedIn</title></head><body></body></html>`)
	assert.Equal(t, "Mary Major", ParseTopCard(doc).Name)
}
