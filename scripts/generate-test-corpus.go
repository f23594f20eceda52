//go:build ignore

// Generates a synthetic user-story corpus for load testing the indexer
// and the search service.
// Usage: go run scripts/generate-test-corpus.go -stories 5000 -output testdata/stories.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numStories = flag.Int("stories", 1000, "Number of stories to generate")
	outputPath = flag.String("output", "testdata/stories.jsonl", "Output JSONL file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var personas = []string{
	"registered user", "guest shopper", "support agent", "billing admin",
	"product analyst", "warehouse operator", "account owner", "team lead",
	"compliance officer", "mobile user",
}

// Capability templates; %s is filled with a subject where present.
var capabilities = []string{
	"reset my password via an emailed link",
	"export %s as CSV",
	"filter %s by date range",
	"receive a push notification when %s change",
	"bulk-edit %s from the dashboard",
	"see an audit trail of changes to %s",
	"schedule a recurring report over %s",
	"archive stale %s after 90 days",
	"search %s by keyword",
	"share a read-only link to %s",
	"undo my last change to %s",
	"pin frequently used %s to the sidebar",
}

var subjects = []string{
	"invoices", "orders", "shipments", "user profiles", "API keys",
	"payment methods", "inventory counts", "support tickets",
	"release notes", "team permissions", "usage metrics", "webhooks",
}

var benefits = []string{
	"I can recover without contacting support",
	"I can build reports in my own tools",
	"I spend less time on repetitive work",
	"I never miss an important change",
	"compliance reviews take less effort",
	"I can act before the problem grows",
	"onboarding new teammates is faster",
	"my dashboard stays focused on current work",
}

var projects = []string{
	"auth", "billing", "reporting", "logistics", "platform",
	"growth", "mobile", "integrations",
}

// Weighted toward medium; matches real backlog shape.
var priorities = []string{"high", "high", "medium", "medium", "medium", "low"}

var labelPool = []string{
	"security", "analytics", "email", "compliance", "performance",
	"ux", "api", "backend", "mobile", "infra",
}

var teams = []string{"atlas", "nimbus", "quasar", "falcon"}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if dir := filepath.Dir(*outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
			os.Exit(1)
		}
	}
	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	enc := json.NewEncoder(w)
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	for i := 0; i < *numStories; i++ {
		if err := enc.Encode(makeStory(rng, i, base)); err != nil {
			fmt.Fprintf(os.Stderr, "write story %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Wrote %d stories to %s\n", *numStories, *outputPath)
}

func makeStory(rng *rand.Rand, i int, base time.Time) map[string]any {
	persona := personas[rng.Intn(len(personas))]
	capability := capabilities[rng.Intn(len(capabilities))]
	subject := subjects[rng.Intn(len(subjects))]
	benefit := benefits[rng.Intn(len(benefits))]

	want := capability
	if hasSubjectSlot(capability) {
		want = fmt.Sprintf(capability, subject)
	}
	title := titleFor(want)
	content := fmt.Sprintf("As a %s I want to %s so that %s.", persona, want, benefit)

	created := base.Add(time.Duration(rng.Intn(200*24)) * time.Hour)

	record := map[string]any{
		"id":         fmt.Sprintf("US-%04d", i+1),
		"project":    projects[rng.Intn(len(projects))],
		"priority":   priorities[rng.Intn(len(priorities))],
		"created_at": created.Format(time.RFC3339),
	}

	// A slice of the corpus uses the tracker-export field names so the
	// loader's summary/text fallbacks stay exercised under load.
	if rng.Intn(10) == 0 {
		record["summary"] = title
		record["text"] = content
	} else {
		record["title"] = title
		record["content"] = content
	}

	if rng.Intn(3) > 0 {
		record["labels"] = pickLabels(rng)
	}
	if rng.Intn(4) == 0 {
		record["sprint"] = rng.Intn(30) + 1
		record["team"] = teams[rng.Intn(len(teams))]
	}
	if rng.Intn(8) == 0 {
		record["risk"] = "needs security review"
	}

	return record
}

func hasSubjectSlot(tmpl string) bool {
	for i := 0; i+1 < len(tmpl); i++ {
		if tmpl[i] == '%' && tmpl[i+1] == 's' {
			return true
		}
	}
	return false
}

func titleFor(want string) string {
	if want == "" {
		return want
	}
	title := []byte(want)
	if title[0] >= 'a' && title[0] <= 'z' {
		title[0] -= 'a' - 'A'
	}
	if len(title) > 60 {
		title = title[:60]
	}
	return string(title)
}

func pickLabels(rng *rand.Rand) []string {
	n := rng.Intn(3) + 1
	seen := make(map[string]bool, n)
	labels := make([]string, 0, n)
	for len(labels) < n {
		l := labelPool[rng.Intn(len(labelPool))]
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	return labels
}
