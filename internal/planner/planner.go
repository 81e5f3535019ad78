// Package planner turns an item into the ordered list of URLs handed to the fetch tool.
package planner

import (
	"fmt"
	"math/rand/v2"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

const (
	site     = "http://www.fotopedia.com"
	imageCDN = "http://images.cdn.fotopedia.com"

	userPageSize   = 1000
	userPageSweeps = 50
	// wiki children are pulled in one oversized query, unlike the user sweep.
	wikiQueryLimit = 1000000
)

// Primary and widened crawl allow-lists.
var (
	PrimaryDomains = []string{"fotopedia.com"}
	WidenedDomains = []string{"fotopedia.com", "cloudfront.net"}
)

// Drawer returns a pseudo-random integer in [0, n). A Planner shared by several
// workers calls it concurrently.
type Drawer interface {
	IntN(n int) int
}

// processDraw uses the package-level generator, which is safe for concurrent workers.
type processDraw struct{}

func (processDraw) IntN(n int) int { return rand.IntN(n) }

// Plan is the per-attempt crawl plan.
type Plan struct {
	URLs    []string
	Domains []string
}

// Planner enumerates URLs per item kind and draws the domain allow-list.
type Planner struct {
	draw Drawer
	odds int
}

// Option configures a Planner.
type Option func(*Planner)

// WithDrawer injects the random source used for the domain draw.
func WithDrawer(d Drawer) Option {
	return func(p *Planner) {
		if d != nil {
			p.draw = d
		}
	}
}

// WithOdds sets the 1-in-n chance of widening the allow-list.
func WithOdds(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.odds = n
		}
	}
}

// New builds a Planner using a process-random source and 1-in-10 odds by default.
func New(opts ...Option) *Planner {
	p := &Planner{
		draw: processDraw{},
		odds: 10,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan returns the URLs for target together with the drawn allow-list.
func (p *Planner) Plan(target item.Target) (Plan, error) {
	urls, err := URLs(target)
	if err != nil {
		return Plan{}, err
	}
	return Plan{URLs: urls, Domains: p.Domains()}, nil
}

// Domains performs the allow-list draw. The result is not reproducible across calls.
func (p *Planner) Domains() []string {
	if p.draw.IntN(p.odds) == 0 {
		return append([]string(nil), WidenedDomains...)
	}
	return append([]string(nil), PrimaryDomains...)
}

// PlanRaw parses kind and value before planning. Unknown kinds fail before any URL is built.
func (p *Planner) PlanRaw(kind, value string) (Plan, error) {
	target, err := item.NewTarget(kind, value)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s:%s: %w", kind, value, err)
	}
	return p.Plan(target)
}

// URLs is the deterministic part of planning.
func URLs(target item.Target) ([]string, error) {
	switch t := target.(type) {
	case item.Album:
		return []string{
			fmt.Sprintf("%s/albums/%s", site, t.ID),
			fmt.Sprintf("%s/albums/%s/info", site, t.ID),
			fmt.Sprintf("%s/albums/%s/photos", site, t.ID),
		}, nil
	case item.Photo:
		return []string{
			fmt.Sprintf("%s/items/%s", site, t.ID),
			fmt.Sprintf("%s/%s-original.jpg", imageCDN, t.ID),
		}, nil
	case item.Story:
		return []string{fmt.Sprintf("%s/reporter/stories/%s", site, t.ID)}, nil
	case item.User:
		return userURLs(t.Name), nil
	case item.Wiki:
		return []string{
			fmt.Sprintf("http://%s.fotopedia.com/wiki/%s", t.Locale, t.Name),
			fmt.Sprintf(
				"%s/albums/fotopedia-%s-%s/article_page/query?flag_filter=all&sort=best&direction=natural&offset=0&limit=%d",
				site, t.Locale, t.Name, wikiQueryLimit,
			),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", item.ErrUnknownItemType, target)
	}
}

var userSections = []string{
	"/users/%s",
	"/users/%s/best_contributed_articles",
	"/users/%s/last_photos",
	"/users/%s/all_albums",
	"/users/%s/following_albums",
	"/reporter/users/%s",
	"/reporter/users/%s/drafts",
	"/reporter/users/%s/personal_magazines",
	"/reporter/users/%s/subscribed_magazines",
	"/reporter/users/%s/following",
	"/reporter/users/%s/followers",
	"/reporter/users/%s/achievements",
}

func userURLs(name string) []string {
	urls := make([]string, 0, len(userSections)+userPageSweeps)
	for _, section := range userSections {
		urls = append(urls, site+fmt.Sprintf(section, name))
	}
	for i := 0; i < userPageSweeps; i++ {
		urls = append(urls, fmt.Sprintf(
			"%s/users/%s/last_photos/query?offset=%d&limit=%d",
			site, name, i*userPageSize, userPageSize,
		))
	}
	return urls
}
