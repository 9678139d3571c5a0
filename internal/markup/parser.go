package markup

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Form control element names.
const (
	htmlElementInput    = "input"
	htmlElementSelect   = "select"
	htmlElementTextarea = "textarea"
)

// Parser pulls the title, meta tags, ld+json blocks, inline scripts, forms
// and links out of a page. Relative links resolve against the base URL.
type Parser struct {
	// baseURL resolves relative form actions and links.
	baseURL *url.URL
}

// Result contains everything extracted from one page.
type Result struct {
	// Title is the page title from the <title> tag.
	Title string

	// Links contains resolved href targets.
	Links []string

	// Forms contains the page's forms.
	Forms []Form

	// MetaTags maps meta name or property (OpenGraph) to content.
	MetaTags map[string]string

	// JSONLD holds the raw bodies of application/ld+json scripts.
	JSONLD []string

	// InlineScripts holds the bodies of scripts without a src attribute.
	InlineScripts []string
}

// Form describes an HTML form.
type Form struct {
	Action string
	Method string
	Fields []FormField
}

// FormField is one form input.
type FormField struct {
	Name  string
	Type  string
	Value string
}

// NewParser creates a parser resolving relative URLs against baseURL.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse walks the document once and collects every supported element.
func (p *Parser) Parse(content io.Reader) (*Result, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Links:    make([]string, 0),
		Forms:    make([]Form, 0),
		MetaTags: make(map[string]string),
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			p.processElement(n, result)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return result, nil
}

func (p *Parser) processElement(n *html.Node, result *Result) {
	switch n.Data {
	case "title":
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "a":
		if href := p.resolveURL(getAttr(n, "href")); href != "" {
			result.Links = append(result.Links, href)
		}

	case "form":
		form := Form{
			Action: p.resolveURL(getAttr(n, "action")),
			Method: strings.ToUpper(getAttr(n, "method")),
			Fields: make([]FormField, 0),
		}
		if form.Method == "" {
			form.Method = "GET"
		}
		p.extractFormFields(n, &form)
		result.Forms = append(result.Forms, form)

	case "script":
		if getAttr(n, "src") != "" {
			return
		}
		body := textOf(n)
		if strings.TrimSpace(body) == "" {
			return
		}
		if strings.EqualFold(getAttr(n, "type"), "application/ld+json") {
			result.JSONLD = append(result.JSONLD, body)
			return
		}
		result.InlineScripts = append(result.InlineScripts, body)

	case "meta":
		// OpenGraph uses property instead of name.
		name := getAttr(n, "name")
		if name == "" {
			name = getAttr(n, "property")
		}
		if content := getAttr(n, "content"); name != "" && content != "" {
			result.MetaTags[name] = content
		}
	}
}

// extractFormFields collects the controls nested anywhere under a form.
func (p *Parser) extractFormFields(n *html.Node, form *Form) {
	if n.Type == html.ElementNode && (n.Data == htmlElementInput || n.Data == htmlElementSelect || n.Data == htmlElementTextarea) {
		field := FormField{
			Name:  getAttr(n, "name"),
			Type:  getAttr(n, "type"),
			Value: getAttr(n, "value"),
		}
		if field.Type == "" {
			switch n.Data {
			case htmlElementTextarea:
				field.Type = htmlElementTextarea
			case htmlElementSelect:
				field.Type = htmlElementSelect
			default:
				field.Type = "text"
			}
		}
		if field.Name != "" {
			form.Fields = append(form.Fields, field)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.extractFormFields(c, form)
	}
}

// HiddenFields returns the hidden inputs of every form, keyed by name. A
// later form's field wins over an earlier one with the same name.
func (r *Result) HiddenFields() map[string]string {
	out := make(map[string]string)
	for _, f := range r.Forms {
		for _, field := range f.Fields {
			if strings.EqualFold(field.Type, "hidden") {
				out[field.Name] = field.Value
			}
		}
	}
	return out
}

// JSONAssignment finds `name = {...};` in the inline scripts and decodes
// the object literal into v. It reports whether an assignment was found
// and decoded.
func (r *Result) JSONAssignment(name string, v any) bool {
	for _, script := range r.InlineScripts {
		i := strings.Index(script, name)
		if i < 0 {
			continue
		}
		rest := script[i+len(name):]
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			continue
		}
		rest = strings.TrimSpace(rest[eq+1:])
		dec := json.NewDecoder(strings.NewReader(rest))
		if err := dec.Decode(v); err == nil {
			return true
		}
	}
	return false
}

func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.baseURL.ResolveReference(u).String()
}

// textOf concatenates the text children of n.
func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// getAttr returns the named attribute of n, or "".
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
