package textproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/cloo-solutions/outreach/internal/service"
	"golang.org/x/net/html"
)

// MaxPageBytes bounds one fetched page.
const MaxPageBytes = 5 << 20

// Crawler fetches same-host pages breadth first.
type Crawler struct {
	client    *http.Client
	userAgent string
}

// NewCrawler creates a new Crawler. A nil client gets a 15s timeout client.
func NewCrawler(client *http.Client, userAgent string) *Crawler {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if userAgent == "" {
		userAgent = "outreach-crawler/1.0"
	}
	return &Crawler{client: client, userAgent: userAgent}
}

type queued struct {
	url   *url.URL
	depth int
}

// Crawl fetches root and the pages it links to on the same host, following
// links from pages shallower than maxDepth, until maxPages pages were
// fetched. Pages that fail to load are skipped; a failing root is an error.
func (c *Crawler) Crawl(ctx context.Context, root *url.URL, maxDepth, maxPages int) ([]service.CrawledPage, error) {
	start := normalizeURL(root)
	seen := map[string]bool{start.String(): true}
	queue := []queued{{url: start, depth: 0}}
	var pages []service.CrawledPage

	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := queue[0]
		queue = queue[1:]

		page, links, err := c.fetch(ctx, next.url)
		if err != nil {
			if next.depth == 0 {
				return nil, err
			}
			slog.DebugContext(ctx, "crawl skipped page", "url", next.url.String(), "error", err)
			continue
		}
		page.Depth = next.depth
		if strings.TrimSpace(page.Text) != "" {
			pages = append(pages, page)
		}

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range links {
			if link.Host != start.Host || seen[link.String()] {
				continue
			}
			seen[link.String()] = true
			queue = append(queue, queued{url: link, depth: next.depth + 1})
		}
	}
	return pages, nil
}

func (c *Crawler) fetch(ctx context.Context, u *url.URL) (service.CrawledPage, []*url.URL, error) {
	page := service.CrawledPage{URL: u.String()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return page, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return page, nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return page, nil, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageBytes))
	if err != nil {
		return page, nil, fmt.Errorf("read %s: %w", u, err)
	}

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mt {
	case "text/plain":
		page.Text = normalizeSpace(string(body))
		return page, nil, nil
	case "text/html", "application/xhtml+xml", "":
	default:
		return page, nil, fmt.Errorf("fetch %s: unsupported content type %q", u, mt)
	}

	text, _, err := docconv.ConvertHTML(bytes.NewReader(body), false)
	if err != nil {
		return page, nil, fmt.Errorf("convert %s: %w", u, err)
	}
	page.Text = normalizeSpace(text)

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return page, nil, nil
	}
	base := resp.Request.URL
	page.Title, base = scanDocument(doc, base)
	return page, extractLinks(doc, base), nil
}

// scanDocument returns the page title and the effective base URL.
func scanDocument(doc *html.Node, base *url.URL) (string, *url.URL) {
	var title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "base":
				if href := attr(n, "href"); href != "" {
					if u, err := base.Parse(href); err == nil {
						base = u
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return title, base
}

func extractLinks(doc *html.Node, base *url.URL) []*url.URL {
	var links []*url.URL
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if u := resolveLink(base, attr(n, "href")); u != nil {
				links = append(links, u)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links
}

func resolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	u, err := base.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}
	return normalizeURL(u)
}

func normalizeURL(u *url.URL) *url.URL {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Host = strings.ToLower(n.Host)
	if n.Path == "" {
		n.Path = "/"
	}
	return &n
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
