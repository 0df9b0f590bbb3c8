// Package detect decides, per tracked collection and alert category, whether freshly fetched
// marketplace data represents something not yet alerted and whether it should be alerted now.
//
// Everything in this package is pure: state is read and written by the caller.
package detect

import (
	"fmt"
	"strings"
)

// Category identifies one alert type.
type Category string

const (
	CategoryFloor    Category = "floor"
	CategoryBid      Category = "bid"
	CategoryListings Category = "listings"
	CategorySales    Category = "sales"
	CategoryBurn     Category = "burn"
)

// AllCategories lists every category in poll order.
var AllCategories = []Category{CategoryListings, CategorySales, CategoryFloor, CategoryBid, CategoryBurn}

// Scalar reports whether the category tracks one current value (floor, bid) rather than an
// ordered log of events.
func (c Category) Scalar() bool {
	return c == CategoryFloor || c == CategoryBid
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts the canonical names plus the singular forms used in older configs.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "floor":
		return CategoryFloor, nil
	case "bid", "topbid", "top_bid":
		return CategoryBid, nil
	case "listings", "listing":
		return CategoryListings, nil
	case "sales", "sale":
		return CategorySales, nil
	case "burn", "burns":
		return CategoryBurn, nil
	}
	return "", fmt.Errorf("unknown alert category %q", s)
}
