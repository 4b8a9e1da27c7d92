package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/phantomtech/mirage/internal/httpkit"
)

const duckduckgoHTMLURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo implements the Provider interface against DuckDuckGo's
// HTML-only endpoint. There is no official JSON API, so results are
// scraped from the lite result page.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo provider.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		baseURL: duckduckgoHTMLURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

// WithBaseURL points the provider at an alternate endpoint. Used by tests.
func (d *DuckDuckGo) WithBaseURL(u string) *DuckDuckGo {
	d.baseURL = u
	return d
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// klRegions maps common language tags to DuckDuckGo "kl" region codes,
// which use a region-language order of their own.
var klRegions = map[string]string{
	"zh":    "cn-zh",
	"zh-cn": "cn-zh",
	"zh-tw": "tw-tzh",
	"en":    "us-en",
	"en-us": "us-en",
	"ja":    "jp-jp",
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	form := url.Values{"q": {query}}
	if kl, ok := klRegions[strings.ToLower(opts.Language)]; ok {
		form.Set("kl", kl)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("duckduckgo: HTTP %d: %s", resp.StatusCode, body)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse response: %w", err)
	}

	count := opts.Count
	if count <= 0 {
		count = defaultCount
	}

	results := parseDuckDuckGoResults(doc)
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

// parseDuckDuckGoResults walks the parsed result page. Each hit is a
// div.result containing an a.result__a (title + href) and an
// a.result__snippet.
func parseDuckDuckGoResults(doc *html.Node) []Result {
	var results []Result

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			r := Result{}
			var inner func(*html.Node)
			inner = func(c *html.Node) {
				if c.Type == html.ElementNode && c.Data == "a" {
					switch {
					case hasClass(c, "result__a"):
						r.Title = strings.TrimSpace(textContent(c))
						r.URL = cleanDuckDuckGoURL(attr(c, "href"))
					case hasClass(c, "result__snippet"):
						r.Snippet = strings.TrimSpace(textContent(c))
					}
				}
				for child := c.FirstChild; child != nil; child = child.NextSibling {
					inner(child)
				}
			}
			inner(n)
			if r.Title != "" {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results
}

// cleanDuckDuckGoURL unwraps the redirect links DuckDuckGo emits
// ("//duckduckgo.com/l/?uddg=<encoded>") into the target URL.
func cleanDuckDuckGoURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
