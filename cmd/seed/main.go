package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"subscription-lifecycle/internal/config"
	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
	pg "subscription-lifecycle/internal/infra/db/postgres"

	"github.com/google/uuid"
)

// priceRef reads a provider price reference such as SEED_PRICE_PRO_MONTHLY.
func priceRef(slug, cycle string) string {
	key := fmt.Sprintf("SEED_PRICE_%s_%s", strings.ToUpper(strings.ReplaceAll(slug, "-", "_")), strings.ToUpper(cycle))
	return strings.TrimSpace(os.Getenv(key))
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	planRepo := pg.NewPlanRepo(pool)
	couponRepo := pg.NewCouponRepo(pool)

	// If plans already exist, do nothing
	plans, err := planRepo.ListAll(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
		for _, p := range plans {
			fmt.Printf("  - %s [%s] (monthly=%d, yearly=%d %s)\n", p.Name, p.Category, p.PriceMonthly, p.PriceYearly, p.Currency)
		}
	} else {
		seed := []struct {
			Slug     string
			Name     string
			Category model.PlanCategory
			Monthly  int64
			Yearly   int64
			Courses  int64
		}{
			{"student-basic", "Student Basic", model.PlanCategoryStudent, 999, 9_990, 5},
			{"student-pro", "Student Pro", model.PlanCategoryStudent, 1_999, 19_990, 25},
			{"teacher-studio", "Teacher Studio", model.PlanCategoryTeacher, 4_999, 49_990, 50},
		}

		for _, s := range seed {
			p, err := model.NewSubscriptionPlan(uuid.NewString(), s.Slug, s.Name, s.Category, s.Monthly, s.Yearly)
			if err != nil {
				log.Fatalf("build plan %q: %v", s.Slug, err)
			}
			p.Currency = cfg.Billing.Currency
			p.FeatureLimits["courses"] = s.Courses
			p.ProviderPriceMonthly = priceRef(s.Slug, "monthly")
			p.ProviderPriceYearly = priceRef(s.Slug, "yearly")
			if err := planRepo.Save(ctx, repository.NoTX, p); err != nil {
				log.Fatalf("save plan %q: %v", s.Slug, err)
			}
			fmt.Printf("seeded plan: %s (id=%s, monthly=%d, yearly=%d %s)\n", p.Name, p.ID, p.PriceMonthly, p.PriceYearly, p.Currency)
		}
	}

	// Coupons are seeded by code so reruns leave existing ones alone.
	coupons := []struct {
		Code  string
		Type  model.DiscountType
		Value int64
	}{
		{"WELCOME15", model.DiscountPercentage, 15},
		{"FIVEOFF", model.DiscountFixedAmount, 500},
	}
	for _, s := range coupons {
		if _, err := couponRepo.FindByCode(ctx, repository.NoTX, s.Code); err == nil {
			fmt.Printf("coupon %s already present\n", s.Code)
			continue
		} else if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrCouponNotFound) {
			log.Fatalf("find coupon %q: %v", s.Code, err)
		}
		c, err := model.NewCoupon(uuid.NewString(), s.Code, s.Type, s.Value, time.Now().UTC())
		if err != nil {
			log.Fatalf("build coupon %q: %v", s.Code, err)
		}
		if err := couponRepo.Save(ctx, repository.NoTX, c); err != nil {
			log.Fatalf("save coupon %q: %v", s.Code, err)
		}
		fmt.Printf("seeded coupon: %s (%s %d)\n", c.Code, c.DiscountType, c.DiscountValue)
	}

	fmt.Println("✅ Seeding complete.")
}
