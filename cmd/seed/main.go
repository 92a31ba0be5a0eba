// Command main runs the demo data seeder for Sokoni.
package main

import (
	"context"
	"flag"
	"log"

	"sokoni/internal/config"
	"sokoni/internal/database"
	"sokoni/internal/seed"
)

func main() {
	def := seed.DefaultOptions()
	sellers := flag.Int("sellers", def.Sellers, "Number of retailer/wholesaler accounts")
	customers := flag.Int("customers", def.Customers, "Number of customer accounts")
	products := flag.Int("products", def.ProductsPerSell, "Products per seller")
	stories := flag.Int("stories", def.StoriesPerSell, "Live stories per seller")
	expired := flag.Int("expired", def.ExpiredPerSeller, "Expired stories per seller")
	follows := flag.Int("follows", def.FollowsPerUser, "Sellers followed per user")
	rngSeed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	clean := flag.Bool("clean", true, "Clean seeded tables first")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db)
	if *clean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	res, err := s.Run(context.Background(), seed.Options{
		Sellers:          *sellers,
		Customers:        *customers,
		ProductsPerSell:  *products,
		StoriesPerSell:   *stories,
		ExpiredPerSeller: *expired,
		FollowsPerUser:   *follows,
		Seed:             *rngSeed,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d users, %d products, %d stories, %d follows",
		len(res.Users), len(res.Products), len(res.Stories), res.Follows)
	log.Printf("All seeded accounts use the password: %s", seed.DemoPassword)
}
