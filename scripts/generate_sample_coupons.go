package main

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// catalogLine is one coupon definition as the catalog loaders read it.
type catalogLine struct {
	Code        string     `json:"code"`
	Discount    string     `json:"discount"`
	MaxUses     *int       `json:"maxUses,omitempty"`
	MinQuantity int        `json:"minQuantity,omitempty"`
	MaxQuantity *int       `json:"maxQuantity,omitempty"`
	Active      bool       `json:"active"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
	CreatedBy   string     `json:"createdBy"`
}

func intPtr(v int) *int { return &v }

// generateSampleCoupons writes gzipped JSON-lines coupon catalogs for local
// runs of `robux-shop coupons import` or COUPON_FILES.
// launch.jsonl.gz:   LAUNCH10 (10 uses), WELCOME5 (unlimited)
// campaign.jsonl.gz: BULK15 (5000+ robux), FLASH50 (3 uses, expires in 24h), RETIRED (inactive)
// A code present in both files takes the definition from the later file.
func main() {
	dataDir := "data/coupons"

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}

	tomorrow := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	catalogs := map[string][]catalogLine{
		"launch.jsonl.gz": {
			{Code: "LAUNCH10", Discount: "0.10", MaxUses: intPtr(10), Active: true, CreatedBy: "sample"},
			{Code: "WELCOME5", Discount: "0.05", Active: true, CreatedBy: "sample"},
		},
		"campaign.jsonl.gz": {
			{Code: "BULK15", Discount: "0.15", MinQuantity: 5000, Active: true, CreatedBy: "sample"},
			{Code: "FLASH50", Discount: "0.50", MaxUses: intPtr(3), MaxQuantity: intPtr(2000), ValidUntil: &tomorrow, Active: true, CreatedBy: "sample"},
			{Code: "RETIRED", Discount: "0.20", Active: false, CreatedBy: "sample"},
		},
	}

	for filename, coupons := range catalogs {
		filePath := filepath.Join(dataDir, filename)

		if err := createCatalogFile(filePath, coupons); err != nil {
			log.Fatalf("Failed to create %s: %v", filename, err)
		}

		fmt.Printf("Created %s with %d coupons\n", filePath, len(coupons))
	}

	fmt.Println("\nSample coupon catalogs created successfully!")
	fmt.Println("\nImport them with:")
	fmt.Println("  robux-shop coupons import data/coupons/launch.jsonl.gz data/coupons/campaign.jsonl.gz")
}

func createCatalogFile(filePath string, coupons []catalogLine) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()

	if _, err := fmt.Fprintf(gzipWriter, "# generated %s\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := json.NewEncoder(gzipWriter)
	for _, coupon := range coupons {
		if err := encoder.Encode(coupon); err != nil {
			return fmt.Errorf("failed to write coupon %s: %w", coupon.Code, err)
		}
	}

	return nil
}
