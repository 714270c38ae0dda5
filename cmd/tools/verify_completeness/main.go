package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"curtailscan/internal/derive"
	"curtailscan/internal/models"
	"curtailscan/internal/reconciler"
	"curtailscan/internal/repository"
)

// Standalone completeness check for the derived dataset. Scans every
// partition in scope, prints the verdict, and exits 1 when completion is
// below the tolerance. Meant for cron and CI gates.
func main() {
	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		log.Fatal("DB_URL is required")
	}

	variants := []string{"S19J_PRO"}
	if v := strings.TrimSpace(os.Getenv("VARIANTS")); v != "" {
		variants = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				variants = append(variants, name)
			}
		}
	}
	if _, err := derive.ResolveVariants(variants); err != nil {
		log.Fatalf("bad VARIANTS: %v", err)
	}

	tolerance := getEnvFloat("TOLERANCE_PCT", 0)
	timeoutSec := getEnvInt("VERIFY_TIMEOUT_SEC", 120)
	if timeoutSec < 10 {
		timeoutSec = 10
	}

	scope := models.ScopeAll()
	if v := strings.TrimSpace(os.Getenv("FROM_DATE")); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			log.Fatalf("bad FROM_DATE %q: %v", v, err)
		}
		scope.From = models.Midnight(d)
	}
	if v := strings.TrimSpace(os.Getenv("TO_DATE")); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			log.Fatalf("bad TO_DATE %q: %v", v, err)
		}
		scope.To = models.Midnight(d)
	}

	repo, err := repository.NewRepository(dbURL)
	if err != nil {
		log.Fatalf("failed to init repository: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	verifier := reconciler.NewVerifier(reconciler.NewScanner(repo, variants), repo)
	summary, err := verifier.Verify(ctx, scope)
	if err != nil {
		log.Fatalf("verification failed: %v", err)
	}

	fmt.Println(summary.Render())

	if !summary.Passed(tolerance) {
		log.Printf("completion %.2f%% is below tolerance (>= %.2f%%)", summary.CompletionPct, 100-tolerance)
		os.Exit(1)
	}
	log.Printf("completion %.2f%% meets tolerance", summary.CompletionPct)
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}
