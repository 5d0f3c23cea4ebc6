// Package eprints implements a client for the EPrints REST API: server
// discovery/canonicalisation, the record index, per-record XML with
// field lookup, and the HTML scraping needed to enumerate a server's
// front-page and /view URLs.
package eprints

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/interrupt"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
)

// Record is a parsed EPrint XML record. Fields holds the text of every
// leaf element found anywhere in the record, keyed by local name (the
// EPrints namespace is stripped); this is enough for the field lookups
// this system needs (eprintid, title, date, ispublished, and so on)
// without modelling the full EPrints schema.
type Record struct {
	Fields map[string]string
}

// FieldValue returns the named field's text and whether it was present.
func (r *Record) FieldValue(field string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Client talks to one EPrints server's REST API.
type Client struct {
	nc *netclient.Client

	apiURL   string
	protocol string
	netloc   string
	hostname string
	baseURL  string
	user     string
	password string

	mu      sync.Mutex
	index   []string
	records map[string]*Record
}

var skipTopLevel = []string{"/cgi", "#", "css"}

// New discovers and canonicalises the EPrints REST API endpoint rooted
// at givenURL (adding a scheme, trimming a trailing "/eprint", and
// appending "/rest" as needed, exactly as _canonical_endpoint_url does),
// and returns a Client bound to it.
func New(ctx context.Context, tok *interrupt.Token, nc *netclient.Client, givenURL, user, password string) (*Client, error) {
	c := &Client{nc: nc, user: user, password: password, records: map[string]*Record{}}

	apiURL, err := c.canonicalEndpoint(ctx, tok, givenURL)
	if err != nil {
		return nil, err
	}
	c.apiURL = apiURL

	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, &errs.BadURL{Msg: fmt.Sprintf("unable to parse %q as a URL", apiURL)}
	}
	c.protocol = u.Scheme
	c.netloc = u.Host
	c.hostname = u.Hostname()
	c.baseURL = c.protocol + "://" + c.netloc
	return c, nil
}

func (c *Client) String() string { return c.hostname }

// APIURL returns the canonical REST API URL for this server.
func (c *Client) APIURL() string { return c.apiURL }

// FrontPageURL returns the server's public front page URL.
func (c *Client) FrontPageURL() string { return c.baseURL }

func (c *Client) canonicalEndpoint(ctx context.Context, tok *interrupt.Token, given string) (string, error) {
	candidate := given
	if !strings.Contains(candidate, "://") {
		var found bool
		for _, prefix := range []string{"https://", "http://"} {
			try := prefix + candidate
			if _, err := c.nc.Request(ctx, tok, "HEAD", try, netclient.Options{}); err == nil {
				candidate = try
				found = true
				break
			}
		}
		if !found {
			return "", &errs.BadArg{Msg: fmt.Sprintf("unable to reach %q over https or http", given)}
		}
	}
	candidate = strings.TrimSuffix(candidate, "/")
	if idx := strings.LastIndex(candidate, "/eprint"); idx >= 0 && idx == len(candidate)-len("/eprint") {
		candidate = candidate[:idx]
	}
	if !strings.HasSuffix(candidate, "/rest") {
		candidate += "/rest"
	}
	if _, err := url.ParseRequestURI(candidate); err != nil {
		return "", &errs.BadArg{Msg: fmt.Sprintf("the given API URL appears invalid: %s", candidate)}
	}
	return candidate, nil
}

func (c *Client) basicAuthHeader() map[string]string {
	if c.user == "" && c.password == "" {
		return nil
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + c.password))
	return map[string]string{"Authorization": "Basic " + creds}
}

func (c *Client) getAuthenticated(ctx context.Context, tok *interrupt.Token, op string) (*netclient.Response, error) {
	resp, err := c.nc.Request(ctx, tok, "GET", c.apiURL+op, netclient.Options{Headers: c.basicAuthHeader()})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Index returns every record identifier known to the server, fetched
// from the REST API's XHTML directory listing and cached thereafter.
func (c *Client) Index(ctx context.Context, tok *interrupt.Token) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		return c.index, nil
	}

	resp, err := c.getAuthenticated(ctx, tok, "/eprint")
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &errs.InternalError{Msg: fmt.Sprintf("parsing EPrints index: %v", err)}
	}

	var ids []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" && strings.HasSuffix(a.Val, "xml") {
					ids = append(ids, strings.SplitN(a.Val, ".", 2)[0])
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)

	sortNumericIDs(ids)
	c.index = ids
	return c.index, nil
}

// sortNumericIDs sorts decimal EPrintID strings into numeric order, the
// "sorted set" Index promises, rather than the lexicographic order
// sort.Strings would give ("10" before "2").
func sortNumericIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr != nil || berr != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
}

// IndexInts is Index with every identifier parsed as an int, discarding
// any that fail to parse.
func (c *Client) IndexInts(ctx context.Context, tok *interrupt.Token) ([]int, error) {
	ids, err := c.Index(ctx, tok)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(ids))
	for _, s := range ids {
		if n, err := strconv.Atoi(s); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// TopLevelURLs scrapes the server's front page for links located on the
// server itself, excluding CGI scripts, style sheets, and in-page
// anchors.
func (c *Client) TopLevelURLs(ctx context.Context, tok *interrupt.Token) ([]string, error) {
	resp, err := c.nc.Request(ctx, tok, "GET", c.baseURL, netclient.Options{})
	if err != nil {
		return nil, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, nil
	}
	links, err := absoluteLinks(resp.Body, base)
	if err != nil {
		return nil, nil
	}

	seen := map[string]bool{}
	var out []string
	for _, u := range links {
		if u == "" || !strings.HasPrefix(u, c.baseURL) {
			continue
		}
		skip := false
		for _, s := range skipTopLevel {
			if strings.Contains(u, s) {
				skip = true
				break
			}
		}
		if skip || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, nil
}

// ViewURLs returns URLs under /view. With idSubset empty, every page
// under /view and the pages one level below each of those is returned.
// With idSubset non-empty, only "/view/X/N.html" pages for N in
// idSubset are kept (year index pages are always excluded, since they
// coincidentally share the "N.html" shape).
func (c *Client) ViewURLs(ctx context.Context, tok *interrupt.Token, idSubset []string) ([]string, error) {
	viewBase := c.baseURL + "/view/"
	resp, err := c.nc.Request(ctx, tok, "GET", viewBase, netclient.Options{})
	if err != nil {
		return nil, nil
	}
	base, _ := url.Parse(viewBase)
	viewURLs, err := linksUnderClass(resp.Body, base, "ep_view_browse_list")
	if err != nil {
		return nil, nil
	}

	subpageSet := map[string]bool{}
	for _, sub := range viewURLs {
		sresp, err := c.nc.Request(ctx, tok, "GET", sub, netclient.Options{})
		if err != nil {
			continue
		}
		subBase, _ := url.Parse(sub)
		subLinks, err := linksUnderClass(sresp.Body, subBase, "ep_view_menu")
		if err != nil {
			continue
		}
		for _, u := range subLinks {
			subpageSet[u] = true
		}
	}

	if len(idSubset) > 0 {
		kept := map[string]bool{}
		for _, id := range idSubset {
			suffix := "/" + id + ".html"
			for u := range subpageSet {
				if strings.Contains(u, "/view/year") {
					continue
				}
				if strings.HasSuffix(u, suffix) {
					kept[u] = true
				}
			}
		}
		return setToSlice(kept), nil
	}

	all := map[string]bool{}
	for _, u := range viewURLs {
		all[u] = true
	}
	for u := range subpageSet {
		all[u] = true
	}
	return setToSlice(all), nil
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	return out
}

// EPrintIDURL returns the "/id/eprint/N" form of a record's public
// page. If verify is true, the URL is HEAD-checked and an empty string
// is returned (with no error) when the check fails, since EPrints indexes
// sometimes list identifiers for records that aren't actually public.
func (c *Client) EPrintIDURL(ctx context.Context, tok *interrupt.Token, idOrRecord any, verify bool) (string, error) {
	id, err := c.eprintIDOf(ctx, tok, idOrRecord)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s://%s/id/eprint/%s", c.protocol, c.netloc, id)
	return c.verifyOrEmpty(ctx, tok, u, verify)
}

// EPrintPageURL returns the "/N" form of a record's public page, with
// the same verification semantics as EPrintIDURL.
func (c *Client) EPrintPageURL(ctx context.Context, tok *interrupt.Token, idOrRecord any, verify bool) (string, error) {
	id, err := c.eprintIDOf(ctx, tok, idOrRecord)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s://%s/%s", c.protocol, c.netloc, id)
	return c.verifyOrEmpty(ctx, tok, u, verify)
}

func (c *Client) verifyOrEmpty(ctx context.Context, tok *interrupt.Token, u string, verify bool) (string, error) {
	if !verify {
		return u, nil
	}
	if _, err := c.nc.Request(ctx, tok, "HEAD", u, netclient.Options{}); err != nil {
		return "", nil
	}
	return u, nil
}

func (c *Client) eprintIDOf(ctx context.Context, tok *interrupt.Token, idOrRecord any) (string, error) {
	switch v := idOrRecord.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case *Record:
		id, ok := v.FieldValue("eprintid")
		if !ok {
			return "", &errs.InternalError{Msg: "record has no eprintid field"}
		}
		return id, nil
	default:
		return "", &errs.InternalError{Msg: fmt.Sprintf("unsupported identifier type %T", idOrRecord)}
	}
}

// EPrintXML fetches (and caches) the XML record for eprintid.
func (c *Client) EPrintXML(ctx context.Context, tok *interrupt.Token, eprintid string) (*Record, error) {
	c.mu.Lock()
	if rec, ok := c.records[eprintid]; ok {
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	resp, err := c.getAuthenticated(ctx, tok, fmt.Sprintf("/eprint/%s.xml", eprintid))
	if err != nil {
		c.mu.Lock()
		c.records[eprintid] = nil
		c.mu.Unlock()
		return nil, err
	}

	rec, perr := parseRecord(resp.Body)
	if perr != nil {
		return nil, perr
	}

	c.mu.Lock()
	c.records[eprintid] = rec
	c.mu.Unlock()
	return rec, nil
}

// FieldValue returns the value of field for idOrRecord. When
// idOrRecord is an identifier, the field is fetched via the REST API's
// plain-text field endpoint (or served from a cached record, if one
// already exists); when it is a *Record, the value is read directly
// out of it. A (_, false, nil) result means the field has no content,
// which is not an error.
func (c *Client) FieldValue(ctx context.Context, tok *interrupt.Token, idOrRecord any, field string) (string, bool, error) {
	switch v := idOrRecord.(type) {
	case *Record:
		val, ok := v.FieldValue(field)
		return val, ok, nil
	case string, int:
		id, _ := c.eprintIDOf(ctx, tok, v)
		if field == "eprintid" {
			return id, true, nil
		}
		c.mu.Lock()
		rec, cached := c.records[id]
		c.mu.Unlock()
		if cached && rec != nil {
			val, ok := rec.FieldValue(field)
			return val, ok, nil
		}

		resp, err := c.getAuthenticated(ctx, tok, fmt.Sprintf("/eprint/%s/%s.txt", id, field))
		if err != nil {
			switch err.(type) {
			case *errs.NoContent, *errs.AuthenticationFailure:
				return "", false, nil
			default:
				return "", false, err
			}
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", false, nil
		}
		return text, true, nil
	default:
		return "", false, &errs.InternalError{Msg: fmt.Sprintf("unsupported identifier type %T", idOrRecord)}
	}
}

// parseRecord reads an EPrints XML record into a flat field map, keyed
// by the local name of every leaf element encountered. The EPrints XML
// namespace is ignored; only local names matter for field lookup.
func parseRecord(data []byte) (*Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	fields := map[string]string{}
	var stack []string
	var text strings.Builder

	flush := func() {
		if len(stack) == 0 {
			return
		}
		name := stack[len(stack)-1]
		val := strings.TrimSpace(text.String())
		if val != "" {
			if _, exists := fields[name]; !exists {
				fields[name] = val
			}
		}
		text.Reset()
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			flush()
			stack = append(stack, t.Name.Local)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			flush()
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(fields) == 0 {
		return nil, &errs.InternalError{Msg: "unable to parse EPrints XML record"}
	}
	return &Record{Fields: fields}, nil
}

// absoluteLinks returns every <a href> found in body, resolved against
// base.
func absoluteLinks(body []byte, base *url.URL) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					if resolved, err := resolveRef(base, a.Val); err == nil {
						out = append(out, resolved)
					}
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return out, nil
}

func resolveRef(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// linksUnderClass returns every <a href>, resolved against base, found
// inside an element (of any tag) whose class attribute contains
// wantClass.
func linksUnderClass(body []byte, base *url.URL, wantClass string) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []string
	var walk func(n *html.Node, inside bool)
	walk = func(n *html.Node, inside bool) {
		cur := inside
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "class" && classListContains(a.Val, wantClass) {
					cur = true
				}
			}
			if n.Data == "a" && cur {
				for _, a := range n.Attr {
					if a.Key == "href" {
						if resolved, err := resolveRef(base, a.Val); err == nil {
							out = append(out, resolved)
						}
					}
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch, cur)
		}
	}
	walk(doc, false)
	return out, nil
}

func classListContains(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == want {
			return true
		}
	}
	return false
}
