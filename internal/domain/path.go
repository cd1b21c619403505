package domain

import (
	"fmt"
	"strings"
)

// RecordRef addresses one document: collection plus key.
type RecordRef struct {
	Collection string
	ID         string
}

func (r RecordRef) String() string {
	return r.Collection + "/" + r.ID
}

// PathTemplate is a document path with one wildcard segment, e.g. "verification_codes/{email}".
type PathTemplate struct {
	collection string
	param      string
}

// ParsePathTemplate validates a "<collection>/{<param>}" template.
func ParsePathTemplate(tmpl string) (PathTemplate, error) {
	collection, seg, ok := strings.Cut(tmpl, "/")
	if !ok || collection == "" || strings.Contains(seg, "/") {
		return PathTemplate{}, fmt.Errorf("path template %q: want <collection>/{param}", tmpl)
	}
	if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") || len(seg) < 3 {
		return PathTemplate{}, fmt.Errorf("path template %q: last segment must be a {param}", tmpl)
	}
	return PathTemplate{collection: collection, param: seg[1 : len(seg)-1]}, nil
}

func (t PathTemplate) Collection() string { return t.collection }
func (t PathTemplate) Param() string      { return t.param }

func (t PathTemplate) String() string {
	return t.collection + "/{" + t.param + "}"
}

// Ref builds the reference for a concrete key.
func (t PathTemplate) Ref(id string) RecordRef {
	return RecordRef{Collection: t.collection, ID: id}
}

// Match resolves a concrete path against the template.
func (t PathTemplate) Match(path string) (RecordRef, error) {
	collection, id, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || collection != t.collection || id == "" || strings.Contains(id, "/") {
		return RecordRef{}, fmt.Errorf("path %q does not match %s: %w", path, t, ErrValidation)
	}
	return RecordRef{Collection: collection, ID: id}, nil
}
