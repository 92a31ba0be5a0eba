// Package seed populates a database with demo marketplace data for
// development and testing.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password123"

// Options controls how much data the seeder creates.
type Options struct {
	Sellers          int
	Customers        int
	ProductsPerSell  int
	StoriesPerSell   int
	FollowsPerUser   int
	ExpiredPerSeller int
	Seed             int64
	Now              time.Time
}

// DefaultOptions returns a small but complete demo dataset.
func DefaultOptions() Options {
	return Options{
		Sellers:          8,
		Customers:        30,
		ProductsPerSell:  4,
		StoriesPerSell:   3,
		FollowsPerUser:   5,
		ExpiredPerSeller: 1,
	}
}

// Result reports what was created.
type Result struct {
	Users    []models.User
	Products []models.Product
	Stories  []models.Story
	Follows  int
	Views    int
	Likes    int
}

// Seeder writes demo data through the repositories so derived counters stay
// consistent with their membership tables.
type Seeder struct {
	db      *gorm.DB
	faker   *gofakeit.Faker
	follows repository.FollowRepository
	stories repository.StoryRepository
}

// NewSeeder returns a Seeder bound to db.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{
		db:      db,
		follows: repository.NewFollowRepository(db),
		stories: repository.NewStoryRepository(db),
	}
}

// ClearAll removes every row the seeder can create.
func (s *Seeder) ClearAll() error {
	tables := []string{"story_likes", "story_views", "stories", "notifications", "follows", "products", "users"}
	for _, t := range tables {
		if err := s.db.Exec("DELETE FROM " + t).Error; err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	middleware.Logger.Info("seed tables cleared", slog.Int("tables", len(tables)))
	return nil
}

// Run creates users, products, follow edges, stories and engagement.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	s.faker = gofakeit.New(opts.Seed)

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}

	res := &Result{}
	sellers, err := s.createUsers(opts.Sellers, string(hash), true)
	if err != nil {
		return nil, err
	}
	customers, err := s.createUsers(opts.Customers, string(hash), false)
	if err != nil {
		return nil, err
	}
	res.Users = append(append(res.Users, sellers...), customers...)

	for i := range sellers {
		products, err := s.createProducts(sellers[i].ID, opts.ProductsPerSell)
		if err != nil {
			return nil, err
		}
		res.Products = append(res.Products, products...)
	}

	if res.Follows, err = s.createFollows(ctx, res.Users, sellers, opts.FollowsPerUser); err != nil {
		return nil, err
	}

	bySeller := make(map[uint][]models.Product)
	for _, p := range res.Products {
		bySeller[p.SellerID] = append(bySeller[p.SellerID], p)
	}
	for i := range sellers {
		stories, err := s.createStories(sellers[i].ID, bySeller[sellers[i].ID], opts)
		if err != nil {
			return nil, err
		}
		res.Stories = append(res.Stories, stories...)
	}

	if res.Views, res.Likes, err = s.createEngagement(ctx, customers, res.Stories, opts.Now); err != nil {
		return nil, err
	}

	middleware.Logger.Info("seed complete",
		slog.Int("users", len(res.Users)),
		slog.Int("products", len(res.Products)),
		slog.Int("stories", len(res.Stories)),
		slog.Int("follows", res.Follows),
		slog.Int("views", res.Views),
		slog.Int("likes", res.Likes))
	return res, nil
}

func (s *Seeder) createUsers(n int, passwordHash string, sellers bool) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		u := models.User{
			Name:       s.faker.Name(),
			Email:      fmt.Sprintf("%s.%d@sokoni.test", s.faker.Username(), s.faker.Number(1000, 999999)),
			Phone:      s.faker.Phone(),
			Password:   passwordHash,
			Role:       models.RoleCustomer,
			Avatar:     fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID()),
			Bio:        s.faker.Sentence(8),
			IsVerified: true,
			IsActive:   true,
		}
		if sellers {
			u.Role = models.RoleRetailer
			if s.faker.Bool() {
				u.Role = models.RoleWholesaler
			}
			u.BusinessName = s.faker.Company()
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return users, nil
	}
	if err := s.db.Create(&users).Error; err != nil {
		return nil, fmt.Errorf("create users: %w", err)
	}
	return users, nil
}

func (s *Seeder) createProducts(sellerID uint, n int) ([]models.Product, error) {
	products := make([]models.Product, 0, n)
	for i := 0; i < n; i++ {
		products = append(products, models.Product{
			Title:       s.faker.ProductName(),
			Description: s.faker.Sentence(14),
			Price:       s.faker.Price(50, 25000),
			Category:    s.faker.ProductCategory(),
			Image:       fmt.Sprintf("https://picsum.photos/seed/%s/600/600", s.faker.UUID()),
			Stock:       s.faker.Number(0, 200),
			SellerID:    sellerID,
			IsActive:    true,
		})
	}
	if len(products) == 0 {
		return products, nil
	}
	if err := s.db.Omit("Seller").Create(&products).Error; err != nil {
		return nil, fmt.Errorf("create products: %w", err)
	}
	return products, nil
}

// createFollows points every user at up to perUser random sellers.
func (s *Seeder) createFollows(ctx context.Context, users, sellers []models.User, perUser int) (int, error) {
	idx := make([]int, len(sellers))
	for i := range idx {
		idx[i] = i
	}
	created := 0
	for _, u := range users {
		s.faker.ShuffleInts(idx)
		picked := 0
		for _, i := range idx {
			if picked >= perUser {
				break
			}
			target := sellers[i]
			if target.ID == u.ID {
				continue
			}
			_, ok, err := s.follows.Follow(ctx, u.ID, target.ID)
			if err != nil {
				return created, fmt.Errorf("follow %d -> %d: %w", u.ID, target.ID, err)
			}
			picked++
			if ok {
				created++
			}
		}
	}
	return created, nil
}

func (s *Seeder) createStories(sellerID uint, products []models.Product, opts Options) ([]models.Story, error) {
	stories := make([]models.Story, 0, opts.StoriesPerSell+opts.ExpiredPerSeller)
	for i := 0; i < opts.StoriesPerSell+opts.ExpiredPerSeller; i++ {
		created := opts.Now.Add(-time.Duration(s.faker.Number(5, 600)) * time.Minute)
		if i >= opts.StoriesPerSell {
			created = opts.Now.Add(-time.Duration(s.faker.Number(25, 72)) * time.Hour)
		}
		st := models.Story{
			UserID:     sellerID,
			MediaType:  models.MediaTypeImage,
			MediaURL:   fmt.Sprintf("https://picsum.photos/seed/%s/1080/1920", s.faker.UUID()),
			Caption:    s.faker.Sentence(6),
			DurationMs: 5000,
			IsActive:   true,
			ExpiresAt:  created.Add(24 * time.Hour),
			CreatedAt:  created,
			UpdatedAt:  created,
		}
		if s.faker.Bool() {
			st.MediaType = models.MediaTypeVideo
			st.MediaURL = fmt.Sprintf("https://cdn.sokoni.test/clips/%s.mp4", s.faker.UUID())
			st.DurationMs = 15000
		}
		if len(products) > 0 && s.faker.Bool() {
			p := products[s.faker.Number(0, len(products)-1)]
			st.ProductID = &p.ID
			st.SetCTA(&models.CTAButton{Text: "Shop now", Link: fmt.Sprintf("/products/%d", p.ID)})
		}
		stories = append(stories, st)
	}
	if len(stories) == 0 {
		return stories, nil
	}
	if err := s.db.Omit("User", "Product", "Views").Create(&stories).Error; err != nil {
		return nil, fmt.Errorf("create stories: %w", err)
	}
	return stories, nil
}

// createEngagement records views and likes on live stories only.
func (s *Seeder) createEngagement(ctx context.Context, customers []models.User, stories []models.Story, now time.Time) (int, int, error) {
	views, likes := 0, 0
	for _, st := range stories {
		if !st.IsLive(now) {
			continue
		}
		for _, c := range customers {
			if s.faker.Number(1, 100) > 40 {
				continue
			}
			if _, added, err := s.stories.RecordView(ctx, st.ID, c.ID, now); err != nil {
				return views, likes, fmt.Errorf("view story %d: %w", st.ID, err)
			} else if added {
				views++
			}
			if s.faker.Number(1, 100) <= 30 {
				if _, liked, err := s.stories.ToggleLike(ctx, st.ID, c.ID, now); err != nil {
					return views, likes, fmt.Errorf("like story %d: %w", st.ID, err)
				} else if liked {
					likes++
				}
			}
		}
	}
	return views, likes, nil
}
