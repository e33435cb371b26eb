// Package split produces train/validation fold files for a dataset.
//
// A fold is two CSV files, train.csv and val.csv, each listing one sample
// stem per line. The split is a seeded shuffle, so a fold is reproducible
// from the same stem list and seed.
package split

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
)

// Make shuffles stems with the given seed and carves off valFraction of them
// (rounded up) as the validation set. The input slice is not modified.
func Make(stems []string, valFraction float64, seed int64) (train, val []string, err error) {
	if valFraction <= 0 || valFraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction %g outside (0,1)", valFraction)
	}
	if len(stems) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 stems to split, have %d", len(stems))
	}

	shuffled := append([]string(nil), stems...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nVal := int(math.Ceil(float64(len(shuffled)) * valFraction))
	if nVal >= len(shuffled) {
		nVal = len(shuffled) - 1
	}
	return shuffled[nVal:], shuffled[:nVal], nil
}

// WriteFold writes train.csv and val.csv under dir, creating it as needed.
func WriteFold(dir string, train, val []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fold directory: %w", err)
	}
	if err := writeCSV(filepath.Join(dir, "train.csv"), train); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, "val.csv"), val)
}

func writeCSV(path string, stems []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, stem := range stems {
		if err := w.Write([]string{stem}); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}
