package audit

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/JakeFAU/stream-embed-audit/internal/graph"
)

// Site is one entry of the sites listing. A nil Name marks a system site.
type Site struct {
	ID     string  `json:"id"`
	Name   *string `json:"name"`
	WebURL string  `json:"webUrl"`
}

// HasContent reports whether the site carries a name and should be visited.
func (s Site) HasContent() bool {
	return s.Name != nil && *s.Name != ""
}

// Page is a modern site page.
type Page struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Component is a page web part. Only the fields used for classification and
// reporting are decoded.
type Component struct {
	Title     string
	EmbedCode string
}

type webPartPayload struct {
	Data *struct {
		Title      string `json:"title"`
		Properties *struct {
			EmbedCode string `json:"embedCode"`
		} `json:"properties"`
	} `json:"data"`
}

// UnmarshalJSON flattens the Graph standardWebPart shape.
func (c *Component) UnmarshalJSON(data []byte) error {
	var raw webPartPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return err //nolint:wrapcheck
	}
	*c = Component{}
	if raw.Data == nil {
		return nil
	}
	c.Title = raw.Data.Title
	if raw.Data.Properties != nil {
		c.EmbedCode = raw.Data.Properties.EmbedCode
	}
	return nil
}

// OwnerInfo is the owner of a site's default document library. Owner holds
// the raw identity set, which may name a user, a group, or several principals.
type OwnerInfo struct {
	Owner json.RawMessage `json:"owner"`
}

// Empty reports whether no owner principal was returned.
func (o OwnerInfo) Empty() bool {
	trimmed := bytes.TrimSpace(o.Owner)
	switch {
	case len(trimmed) == 0:
		return true
	case bytes.Equal(trimmed, []byte("null")),
		bytes.Equal(trimmed, []byte("{}")),
		bytes.Equal(trimmed, []byte("[]")):
		return true
	}
	return false
}

// String returns the owner serialized as compact JSON.
func (o OwnerInfo) String() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, o.Owner); err != nil {
		return string(o.Owner)
	}
	return buf.String()
}

// MatchRecord is one reported web part. Field order is the report column order.
type MatchRecord struct {
	SiteName     string
	SiteURL      string
	SiteID       string
	SiteOwner    string
	PageName     string
	PageID       string
	WebpartTitle string
	EmbedCode    string
}

// Fields returns the record in report column order.
func (r MatchRecord) Fields() []string {
	return []string{
		r.SiteName,
		r.SiteURL,
		r.SiteID,
		r.SiteOwner,
		r.PageName,
		r.PageID,
		r.WebpartTitle,
		r.EmbedCode,
	}
}

// Columns names the report columns, in Fields order.
var Columns = []string{
	"SiteName",
	"SiteUrl",
	"SiteId",
	"SiteOwner",
	"PageName",
	"PageId",
	"WebpartTitle",
	"EmbedCode",
}

// Executor performs one Graph call under the retry policy.
type Executor interface {
	Execute(ctx context.Context, path string) (*graph.Response, error)
}

// RecordSink receives matches and is rolled over after each sites-listing page.
type RecordSink interface {
	Accept(ctx context.Context, record MatchRecord) error
	Rollover(ctx context.Context) error
}
