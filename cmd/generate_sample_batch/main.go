// Command generate_sample_batch writes a synthetic review batch for demos,
// load tests and manual testing of the reviewer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ingest"
	"github.com/ahrav/go-arbiter/internal/testutils"
)

func main() {
	var (
		rows       = flag.Int("rows", 50, "number of rows (csv) or suggestion sets (json)")
		models     = flag.Int("models", 2, "number of model output columns")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		reference  = flag.Bool("reference", true, "include a reference_outputs column")
		malformed  = flag.Int("malformed-every", 0, "break every n-th row to exercise skipping")
		mode       = flag.String("mode", application.ModeCSV, "csv for a comparison batch, json for a suggestion document")
		outputPath = flag.String("output", "testdata/sample_batch.csv", "output file path")
	)
	flag.Parse()

	var text string
	switch *mode {
	case application.ModeCSV:
		text = testutils.SampleBatchCSV(testutils.SampleBatchOptions{
			Rows:           *rows,
			Models:         *models,
			Seed:           *seed,
			WithReference:  *reference,
			MalformedEvery: *malformed,
		})
	case application.ModeJSON:
		rng := rand.New(rand.NewSource(*seed))
		sets := make([]domain.SuggestionSet, *rows)
		for i := range sets {
			sets[i] = testutils.GenerateSuggestionSet(rng).Normalize()
		}
		data, err := json.MarshalIndent(sets, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode suggestions: %v", err)
		}
		text = string(data)
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o750); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := os.WriteFile(*outputPath, []byte(text), 0o600); err != nil {
		log.Fatalf("Failed to save batch: %v", err)
	}

	// Round-trip through ingest so the printed report is what a reviewer sees.
	svc := application.NewIngestService(ingest.NewAssembler(nil, nil), nil, nil)
	doc, err := svc.Load(context.Background(), text)
	if doc == nil {
		log.Fatalf("Generated batch does not ingest: %v", err)
	}

	fmt.Printf("Generated %s batch:\n", doc.Mode)
	fmt.Printf("- Path: %s\n", *outputPath)
	fmt.Printf("- Seed: %d\n", *seed)
	fmt.Printf("- Key: %s\n", doc.Key)
	if doc.Batch != nil {
		fmt.Printf("- %s\n", doc.Batch.Report.Summary())
	} else {
		fmt.Printf("- Suggestions: %d in %d sets\n", len(doc.Items), len(doc.Sets))
	}
}
