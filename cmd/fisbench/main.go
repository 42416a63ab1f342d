// cmd/fisbench/main.go
//
// fisbench - build a FIS-tree classifier and replay queries against it,
// reporting build and per-query latency.
//
// Usage:
//
//	fisbench [-db path] [-rules n] [-queries n] [-seed n]
//
// With -db, rules are loaded from a SQLite rule-source database (see
// pkg/rulesource). Without it, fisbench generates a synthetic rule set of
// -rules disjoint dst-port rules (a random quarter of them bidirectional)
// plus one catch-all.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"time"

	"fisclass/pkg/classifier"
	"fisclass/pkg/rule"
	"fisclass/pkg/rulesource"
)

func main() {
	dbPath := flag.String("db", "", "rule-source SQLite database (omit to generate synthetic rules)")
	numRules := flag.Int("rules", 2000, "number of synthetic rules to generate when -db is omitted")
	numQueries := flag.Int("queries", 200000, "number of queries to replay")
	seed := flag.Int64("seed", 1, "PRNG seed for synthetic rules and queries")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	rules, err := loadRules(*dbPath, *numRules, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fisbench: %v\n", err)
		os.Exit(1)
	}
	logger.Info("rules loaded", "count", len(rules), "source", ruleSourceLabel(*dbPath))

	c := classifier.NewWithLogger(logger)
	defer c.Close()

	buildStart := time.Now()
	if err := c.Build(rules, int(classifier.DimDstPort)); err != nil {
		fmt.Fprintf(os.Stderr, "fisbench: build: %v\n", err)
		os.Exit(1)
	}
	buildElapsed := time.Since(buildStart)
	fmt.Printf("build: %s (%d rules)\n", buildElapsed, len(rules))

	rng := rand.New(rand.NewSource(*seed + 1))
	queries := make([][]uint32, *numQueries)
	for i := range queries {
		queries[i] = randomQuery(rng)
	}

	latencies := make([]time.Duration, len(queries))
	matched := 0
	queryStart := time.Now()
	for i, q := range queries {
		start := time.Now()
		got := c.Query(q)
		latencies[i] = time.Since(start)
		if got != nil {
			matched++
		}
	}
	totalElapsed := time.Since(queryStart)

	report(totalElapsed, latencies, matched)
}

func ruleSourceLabel(dbPath string) string {
	if dbPath == "" {
		return "synthetic"
	}
	return "sqlite"
}

func loadRules(dbPath string, n int, seed int64) ([]rule.Rule, error) {
	if dbPath != "" {
		db, err := rulesource.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open rule source: %w", err)
		}
		defer db.Close()

		rules, err := rulesource.Load(db)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		return rules, nil
	}
	return syntheticRules(n, seed), nil
}

// syntheticRules builds n non-overlapping dst-port ranges plus one lowest-
// priority catch-all, so every generated query matches the catch-all and at
// most one dst-port rule. A bidirectional rule's inverse field is the same
// as its forward field.
func syntheticRules(n int, seed int64) []rule.Rule {
	if n < 1 {
		n = 1
	}
	rng := rand.New(rand.NewSource(seed))

	width := 65536 / (n + 1)
	if width < 1 {
		width = 1
	}

	rules := make([]rule.Rule, 0, n+1)
	for i := 0; i < n; i++ {
		begin := uint32(i*width + 1)
		end := begin + uint32(width)
		if end > 65535 {
			end = 65535
		}

		var f [rule.MaxDim]classifier.Interval
		for d := range f {
			f[d] = classifier.MakeAnyToAny()
		}
		f[classifier.DimDstPort] = classifier.MakeRange(begin, end)

		rules = append(rules, rule.Rule{
			Field:         f,
			InverseField:  f,
			Cost:          int32(i + 1),
			Action:        fmt.Sprintf("rule-%d", i),
			Bidirectional: rng.Intn(4) == 0,
		})
	}

	var catchAll [rule.MaxDim]classifier.Interval
	for d := range catchAll {
		catchAll[d] = classifier.MakeAnyToAny()
	}
	rules = append(rules, rule.Rule{
		Field:  catchAll,
		Cost:   int32(n + 1),
		Action: "default",
	})

	return rules
}

func randomQuery(rng *rand.Rand) []uint32 {
	q := make([]uint32, rule.MaxDim)
	for d := range q {
		q[d] = uint32(rng.Intn(1 << 16))
	}
	return q
}

func report(total time.Duration, latencies []time.Duration, matched int) {
	if len(latencies) == 0 {
		fmt.Println("no queries run")
		return
	}

	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pct := func(p float64) time.Duration {
		if len(sorted) == 0 {
			return 0
		}
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}

	fmt.Printf("queries: %d (%d matched, %d unmatched)\n", len(latencies), matched, len(latencies)-matched)
	fmt.Printf("total: %s (%.0f queries/sec)\n", total, float64(len(latencies))/total.Seconds())
	fmt.Printf("latency p50=%s p90=%s p99=%s max=%s\n",
		pct(0.50), pct(0.90), pct(0.99), sorted[len(sorted)-1])
}
