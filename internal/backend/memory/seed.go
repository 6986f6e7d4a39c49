package memory

import (
	"storefront/internal/backend"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// SeedCatalog loads a small demo catalog into t.
func SeedCatalog(t *Tables) {
	t.Seed(models.TableProducts,
		backend.Row{
			"id":          "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a01",
			"name":        "Classic Tee",
			"description": "Heavyweight cotton t-shirt.",
			"price":       decimal.RequireFromString("20.00"),
			"category":    "tops",
			"image_url":   "https://images.example.com/classic-tee.jpg",
			"sizes":       []string{"S", "M", "L", "XL"},
			"stock":       120,
		},
		backend.Row{
			"id":          "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a02",
			"name":        "Canvas Cap",
			"description": "Six panel cap with adjustable strap.",
			"price":       decimal.RequireFromString("15.00"),
			"category":    "accessories",
			"image_url":   "https://images.example.com/canvas-cap.jpg",
			"sizes":       []string{"One Size"},
			"stock":       40,
		},
		backend.Row{
			"id":          "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a03",
			"name":        "Denim Jacket",
			"description": "Washed denim with brass buttons.",
			"price":       decimal.RequireFromString("89.90"),
			"category":    "outerwear",
			"image_url":   "https://images.example.com/denim-jacket.jpg",
			"sizes":       []string{"M", "L"},
			"stock":       12,
		},
	)
}
