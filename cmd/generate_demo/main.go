// Command generate_demo creates a demo database with a handful of sample
// sailings, priced and itineraried, without touching the remote feed.
// Usage: go run cmd/generate_demo/main.go [-db path/to/demo.db]
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/database"
	"github.com/zipsea/cruisesync/internal/entities"
)

const defaultDemoDatabasePath = "./demo/demo.db"

func main() {
	dbPath := flag.String("db", defaultDemoDatabasePath, "path to the demo database file")
	flag.Parse()

	log.Printf("Generating demo database at %s...", *dbPath)

	// Delete existing demo database to start fresh
	if err := os.Remove(*dbPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to remove existing demo database: %v", err)
	}

	db, err := database.NewDatabase(config.Database{Driver: "sqlite", Path: *dbPath})
	if err != nil {
		log.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	createReferenceData(db)

	for _, sailing := range demoSailings() {
		if err := db.DB.Create(&sailing).Error; err != nil {
			log.Printf("Failed to save sailing %d: %v", sailing.CodeToCruiseID, err)
			continue
		}
		log.Printf("Saved: %s departing %s (sailing %d)",
			sailing.Name, sailing.SailingDate.Format("2006-01-02"), sailing.CodeToCruiseID)
	}

	log.Println("Demo database generated successfully!")
}

func createReferenceData(db *database.Database) {
	lines := []entities.CruiseLine{
		{ID: 16, Name: "Royal Caribbean"},
		{ID: 22, Name: "Carnival Cruise Line"},
	}
	ships := []entities.Ship{
		{ID: 248, LineID: 16, Name: "Wonder of the Seas"},
		{ID: 310, LineID: 22, Name: "Carnival Celebration"},
	}
	ports := []entities.Port{
		{ID: 101, Name: "Miami"},
		{ID: 102, Name: "Nassau"},
		{ID: 103, Name: "Cozumel"},
	}
	regions := []entities.Region{
		{ID: 12, Name: "Caribbean"},
		{ID: 14, Name: "Bahamas"},
	}

	for _, l := range lines {
		if err := db.DB.Create(&l).Error; err != nil {
			log.Printf("Failed to create line %d: %v", l.ID, err)
		}
	}
	for _, s := range ships {
		if err := db.DB.Create(&s).Error; err != nil {
			log.Printf("Failed to create ship %d: %v", s.ID, err)
		}
	}
	for _, p := range ports {
		if err := db.DB.Create(&p).Error; err != nil {
			log.Printf("Failed to create port %d: %v", p.ID, err)
		}
	}
	for _, r := range regions {
		if err := db.DB.Create(&r).Error; err != nil {
			log.Printf("Failed to create region %d: %v", r.ID, err)
		}
	}
}

func demoSailings() []entities.Sailing {
	now := time.Now()
	price := func(v float64) *float64 { return &v }
	nights := func(n int) *int { return &n }
	date := func(y int, m time.Month, d int) *time.Time {
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &t
	}

	return []entities.Sailing{
		{
			CodeToCruiseID: 9001001,
			CruiseID:       450123,
			LineID:         16,
			ShipID:         248,
			Name:           "7 Night Western Caribbean",
			SailingDate:    date(2026, 10, 4),
			Nights:         nights(7),
			InteriorPrice:  price(649),
			OceanviewPrice: price(799),
			BalconyPrice:   price(949),
			SuitePrice:     price(1899),
			CheapestPrice:  price(649),
			Active:         true,
			LastSyncedAt:   now,
		},
		{
			CodeToCruiseID: 9001002,
			CruiseID:       450123,
			LineID:         16,
			ShipID:         248,
			Name:           "7 Night Western Caribbean",
			SailingDate:    date(2026, 10, 11),
			Nights:         nights(7),
			InteriorPrice:  price(599),
			BalconyPrice:   price(899),
			CheapestPrice:  price(599),
			Active:         true,
			LastSyncedAt:   now,
		},
		{
			CodeToCruiseID: 9002001,
			CruiseID:       460777,
			LineID:         22,
			ShipID:         310,
			Name:           "4 Night Bahamas",
			SailingDate:    date(2026, 11, 2),
			Nights:         nights(4),
			InteriorPrice:  price(389),
			OceanviewPrice: price(459),
			CheapestPrice:  price(389),
			Active:         true,
			LastSyncedAt:   now,
		},
	}
}
