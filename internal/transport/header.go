package transport

import "strings"

// HeaderField is one request header line.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. The order of the slice is the
// order in which fields are written on the wire (where the transport allows
// it). Lookups are case-insensitive.
type Header []HeaderField

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Set replaces the value of the first field named name, keeping its
// position, and removes any later duplicates. A new field is appended when
// name is not present.
func (h *Header) Set(name, value string) {
	out := (*h)[:0]
	found := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if found {
				continue
			}
			found = true
			f.Value = value
		}
		out = append(out, f)
	}
	if !found {
		out = append(out, HeaderField{Name: name, Value: value})
	}
	*h = out
}

// Add appends a field without touching existing ones.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	copy(out, h)
	return out
}

// Names returns field names in wire order.
func (h Header) Names() []string {
	names := make([]string, len(h))
	for i, f := range h {
		names[i] = f.Name
	}
	return names
}
