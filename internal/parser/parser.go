// Package parser extracts product records from storefront HTML using
// ordered selector cascades: for every field the first strategy that yields
// a value wins, and a strategy that fails or panics never affects any other
// field.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one way of extracting a field from a document or container.
type Strategy[T any] func(s *goquery.Selection) (T, bool)

// Cascade runs strategies in order and returns the first success.
func Cascade[T any](s *goquery.Selection, strategies ...Strategy[T]) (T, bool) {
	for _, st := range strategies {
		if v, ok := attempt(s, st); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Optional is Cascade returning nil when nothing matched.
func Optional[T any](s *goquery.Selection, strategies ...Strategy[T]) *T {
	v, ok := Cascade(s, strategies...)
	if !ok {
		return nil
	}
	return &v
}

func attempt[T any](s *goquery.Selection, st Strategy[T]) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, ok = zero, false
		}
	}()
	return st(s)
}

// Text takes the trimmed text of the first element matching selector.
func Text(selector string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		t := collapseSpace(s.Find(selector).First().Text())
		return t, t != ""
	}
}

// Attr takes an attribute of the first element matching selector.
func Attr(selector, attr string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		v, ok := s.Find(selector).First().Attr(attr)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
}

// Map transforms the result of a string strategy.
func Map[T any](st Strategy[string], fn func(string) (T, bool)) Strategy[T] {
	return func(s *goquery.Selection) (T, bool) {
		text, ok := st(s)
		if !ok {
			var zero T
			return zero, false
		}
		return fn(text)
	}
}

// Exists reports whether any selector matches.
func Exists(selectors ...string) Strategy[bool] {
	return func(s *goquery.Selection) (bool, bool) {
		for _, sel := range selectors {
			if s.Find(sel).Length() > 0 {
				return true, true
			}
		}
		return false, false
	}
}
