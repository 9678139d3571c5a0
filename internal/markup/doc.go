// Package markup extracts structured data from upstream HTML pages.
//
// Two consumers rely on it: the anonymous lookup chain reads embedded
// JSON-LD, OpenGraph meta tags and inline JSON assignments from public
// profile pages, and the challenge resolver reads hidden form fields
// (negotiation tokens) from web checkpoint pages.
package markup
