// Package audit walks a tenant's SharePoint sites through the Graph API and
// reports every page web part that still embeds the retired Microsoft Stream
// (Classic) video service.
//
// The walk is strictly nested and sequential: each fetched page of the sites
// listing is expanded site by site, each site page by page, and each page web
// part by web part. Matches flow into a RecordSink, which is rolled over once
// per sites-listing page.
package audit
