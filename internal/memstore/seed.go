package memstore

import (
	"github.com/shopspring/decimal"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

// SeedDemo fills c with a small catalog for both lines, for local runs
// with STORE=memory.
func SeedDemo(c *Catalog) {
	for _, p := range []orders.Product{
		{ID: "hair-bone-straight-22", Line: orders.LineHair, Name: "Bone Straight 22\"", Price: decimal.NewFromInt(185000), Stock: 12},
		{ID: "hair-kinky-curly-18", Line: orders.LineHair, Name: "Kinky Curly 18\"", Price: decimal.NewFromInt(142500), Stock: 8},
		{ID: "hair-closure-4x4", Line: orders.LineHair, Name: "Lace Closure 4x4", Price: decimal.NewFromInt(45000), Stock: 20},
		{ID: "poultry-broiler", Line: orders.LinePoultry, Name: "Dressed Broiler", Price: decimal.NewFromInt(9500), Stock: 40},
		{ID: "poultry-eggs-crate", Line: orders.LinePoultry, Name: "Eggs (crate of 30)", Price: decimal.NewFromInt(4800), Stock: 60},
	} {
		c.Put(p)
	}
}
