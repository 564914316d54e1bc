package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/graph"
	"github.com/JakeFAU/stream-embed-audit/internal/metrics"
	"github.com/JakeFAU/stream-embed-audit/internal/retry"
)

// Options configures one crawl run. It is fixed at construction.
type Options struct {
	// SiteID narrows the crawl to a single site.
	SiteID string
	// PageSize is the sites listing page size.
	PageSize int
	// ResultSize stops the crawl once PageSize * fetched pages reaches it; zero disables the cap.
	ResultSize int
	// CacheOwners reuses one owner lookup per site instead of fetching it per match.
	CacheOwners bool
}

// Summary counts what a run visited.
type Summary struct {
	SitesPages          int
	SitesListed         int
	SitesVisited        int
	PagesVisited        int
	ComponentsInspected int
	Matches             int
	OwnerMissing        int
	Skipped             int
}

// Crawler drives the sites → pages → web parts traversal.
type Crawler struct {
	exec   Executor
	sink   RecordSink
	opts   Options
	logger *zap.Logger

	owners  map[string]OwnerInfo
	summary Summary
}

// NewCrawler builds a Crawler. PageSize defaults to 200.
func NewCrawler(exec Executor, sink RecordSink, opts Options, logger *zap.Logger) *Crawler {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.ResultSize < 0 {
		opts.ResultSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		exec:   exec,
		sink:   sink,
		opts:   opts,
		logger: logger,
	}
}

// SitesPath is the first sites listing request for opts.
func SitesPath(opts Options) string {
	if opts.SiteID != "" {
		return "sites/" + opts.SiteID + "?$select=id,name,webUrl"
	}
	return fmt.Sprintf(
		"sites/getAllSites?$filter=%s&$orderby=name&$select=id,name,webUrl&$top=%d",
		url.PathEscape("isPersonalSite eq false"),
		opts.PageSize,
	)
}

// PagesPath lists the site pages of a site.
func PagesPath(siteID string) string {
	return "sites/" + siteID + "/pages/microsoft.graph.sitePage?$select=id,name"
}

// ComponentsPath lists the web parts of a page.
func ComponentsPath(siteID, pageID string) string {
	return "sites/" + siteID + "/pages/" + pageID + "/microsoft.graph.sitePage/webParts"
}

// OwnerPath fetches the owner of a site's default document library.
func OwnerPath(siteID string) string {
	return "sites/" + siteID + "/drive?$select=owner"
}

// Run walks the tenant until the listing ends, the result cap is reached, or
// a fatal error occurs. The sink is rolled over after every sites page.
func (c *Crawler) Run(ctx context.Context) (Summary, error) {
	c.summary = Summary{}
	c.owners = make(map[string]OwnerInfo)

	path := SitesPath(c.opts)
	for {
		resp, err := c.exec.Execute(ctx, path)
		if err != nil {
			return c.summary, fmt.Errorf("list sites (page %d): %w", c.summary.SitesPages+1, err)
		}
		c.summary.SitesPages++
		metrics.ObserveSitesPage()
		c.logger.Info("Processing sites page",
			zap.Int("page", c.summary.SitesPages),
			zap.Int("sites", len(resp.Items)),
		)

		for _, raw := range resp.Items {
			if err := c.visitSite(ctx, raw); err != nil {
				return c.summary, err
			}
		}

		if err := c.sink.Rollover(ctx); err != nil {
			return c.summary, fmt.Errorf("rollover after sites page %d: %w", c.summary.SitesPages, err)
		}

		if resp.NextLink == "" {
			break
		}
		if c.capReached() {
			c.logger.Info("Result size reached, stopping",
				zap.Int("result_size", c.opts.ResultSize),
				zap.Int("pages_fetched", c.summary.SitesPages),
			)
			break
		}
		path = resp.NextLink
	}
	return c.summary, nil
}

func (c *Crawler) capReached() bool {
	return c.opts.ResultSize > 0 && c.summary.SitesPages*c.opts.PageSize >= c.opts.ResultSize
}

func (c *Crawler) visitSite(ctx context.Context, raw json.RawMessage) error {
	var site Site
	if err := graph.Decode(raw, &site); err != nil {
		return c.skipOrFail("site", "", err)
	}
	c.summary.SitesListed++
	if !site.HasContent() {
		c.logger.Debug("Skipping site without name", zap.String("site_id", site.ID))
		return nil
	}
	c.summary.SitesVisited++
	log := c.logger.With(zap.String("site_id", site.ID), zap.String("site", *site.Name))
	log.Debug("Visiting site")

	resp, err := c.exec.Execute(ctx, PagesPath(site.ID))
	if err != nil {
		return c.skipOrFail("site", site.ID, fmt.Errorf("list pages of site %s: %w", site.ID, err))
	}
	if resp.Empty() {
		log.Debug("Site has no pages")
		return nil
	}

	for _, item := range resp.Items {
		var page Page
		if err := graph.Decode(item, &page); err != nil {
			if err := c.skipOrFail("page", site.ID, err); err != nil {
				return err
			}
			continue
		}
		if err := c.visitPage(ctx, site, page, log); err != nil {
			return err
		}
	}
	return nil
}

func (c *Crawler) visitPage(ctx context.Context, site Site, page Page, log *zap.Logger) error {
	c.summary.PagesVisited++
	log = log.With(zap.String("page_id", page.ID), zap.String("page", page.Name))

	resp, err := c.exec.Execute(ctx, ComponentsPath(site.ID, page.ID))
	if err != nil {
		return c.skipOrFail("page", page.ID, fmt.Errorf("list web parts of page %s: %w", page.ID, err))
	}
	if resp.Empty() {
		log.Debug("Page has no web parts")
		return nil
	}

	for _, item := range resp.Items {
		if err := c.inspectComponent(ctx, site, page, item, log); err != nil {
			if err := c.skipOrFail("component", page.ID, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crawler) inspectComponent(ctx context.Context, site Site, page Page, raw json.RawMessage, log *zap.Logger) error {
	var component Component
	if err := graph.Decode(raw, &component); err != nil {
		return fmt.Errorf("decode web part: %w", err)
	}
	c.summary.ComponentsInspected++
	matched := IsDeprecatedEmbed(component)
	metrics.ObserveComponent(matched)
	if !matched {
		return nil
	}

	owner, err := c.ownerOf(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("owner of site %s: %w", site.ID, err)
	}
	if owner.Empty() {
		c.summary.OwnerMissing++
		log.Warn("Skipping match, site owner unavailable", zap.String("webpart", component.Title))
		return nil
	}

	record := MatchRecord{
		SiteName:     *site.Name,
		SiteURL:      site.WebURL,
		SiteID:       site.ID,
		SiteOwner:    owner.String(),
		PageName:     page.Name,
		PageID:       page.ID,
		WebpartTitle: component.Title,
		EmbedCode:    component.EmbedCode,
	}
	if err := c.sink.Accept(ctx, record); err != nil {
		return fmt.Errorf("record match on page %s: %w", page.ID, err)
	}
	c.summary.Matches++
	log.Info("Deprecated video embed found", zap.String("webpart", component.Title))
	return nil
}

// ownerOf looks up the site owner. Without CacheOwners every match repeats
// the call.
func (c *Crawler) ownerOf(ctx context.Context, siteID string) (OwnerInfo, error) {
	if c.opts.CacheOwners {
		if owner, ok := c.owners[siteID]; ok {
			return owner, nil
		}
	}
	resp, err := c.exec.Execute(ctx, OwnerPath(siteID))
	if err != nil {
		return OwnerInfo{}, err
	}
	var owner OwnerInfo
	if !resp.Empty() {
		if err := graph.Decode(resp.Items[0], &owner); err != nil {
			return OwnerInfo{}, err
		}
	}
	if c.opts.CacheOwners {
		c.owners[siteID] = owner
	}
	return owner, nil
}

// skipOrFail swallows skip-this-item errors at the given level and returns
// every other error unchanged.
func (c *Crawler) skipOrFail(level, id string, err error) error {
	if !retry.IsSkippable(err) {
		return err
	}
	c.summary.Skipped++
	metrics.ObserveSkip(level)
	c.logger.Warn("Skipping item with malformed payload",
		zap.String("level", level),
		zap.String("parent_id", id),
		zap.Error(err),
	)
	return nil
}
