package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
	"github.com/gkswns3708/CellViT-plus-plus/internal/dataset"
	"github.com/gkswns3708/CellViT-plus-plus/internal/split"
	"github.com/gkswns3708/CellViT-plus-plus/internal/stain"
	"github.com/gkswns3708/CellViT-plus-plus/internal/transform"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func usage() {
	fmt.Println("celldata - cell point-annotation dataset tooling")
	fmt.Println()
	fmt.Println("Usage: celldata <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  split     Write train.csv/val.csv fold files for a dataset split")
	fmt.Println("  stats     Cache a split and report per-type cell counts")
	fmt.Println("  render    Overlay extracted cell centroids on one sample image")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Run 'celldata <command> -h' for command options.")
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("celldata %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	case "--help", "-h", "help":
		usage()
		return
	case "split":
		runSplit(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "render":
		runRender(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func runSplit(args []string) {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	root := fs.String("root", "", "dataset parent directory (required)")
	splitName := fs.String("split", "train", "split subdirectory to divide")
	out := fs.String("out", "", "fold output directory, e.g. splits/fold_0 (required)")
	valFraction := fs.Float64("val", 0.2, "validation fraction")
	seed := fs.Int64("seed", 42, "shuffle seed")
	fs.Parse(args)

	if *root == "" || *out == "" {
		fs.Usage()
		os.Exit(2)
	}

	ds, err := dataset.New(dataset.Options{Root: *root, Split: *splitName})
	if err != nil {
		log.Fatalf("split: %v", err)
	}
	stems := make([]string, 0, ds.Len())
	for _, ref := range ds.Samples() {
		stems = append(stems, ref.Stem)
	}

	train, val, err := split.Make(stems, *valFraction, *seed)
	if err != nil {
		log.Fatalf("split: %v", err)
	}
	if err := split.WriteFold(*out, train, val); err != nil {
		log.Fatalf("split: %v", err)
	}
	fmt.Printf("train: %d, val: %d saved to %s\n", len(train), len(val), *out)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	root := fs.String("root", "", "dataset parent directory (required)")
	splitName := fs.String("split", "train", "split subdirectory")
	filelist := fs.String("filelist", "", "optional CSV restricting stems")
	skipBad := fs.Bool("skip-bad", false, "keep going past unloadable samples")
	normalize := fs.Bool("normalize", false, "apply Macenko stain normalization per sample")
	crop := fs.Int("crop", 0, "center-crop samples to this size before counting (0 = off)")
	fs.Parse(args)

	if *root == "" {
		fs.Usage()
		os.Exit(2)
	}

	opts := dataset.Options{Root: *root, Split: *splitName, FilelistPath: *filelist}
	if *normalize {
		opts.Normalizer = stain.NewMacenko()
	}
	if *crop > 0 {
		opts.Transform = transform.NewPipeline(dataset.DefaultMean, dataset.DefaultStd,
			transform.CenterCrop{Width: *crop, Height: *crop})
	}

	ds, err := dataset.New(opts)
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	if err := ds.Build(dataset.BuildOptions{Progress: true, SkipBad: *skipBad}); err != nil {
		if !*skipBad {
			log.Fatalf("stats: %v", err)
		}
		log.Printf("stats: some samples skipped: %v", err)
	}

	totalCells := 0
	typeCounts := make(map[int]int)
	usable := 0
	for i := 0; i < ds.Len(); i++ {
		item, err := ds.GetItem(i)
		if err != nil {
			log.Printf("stats: sample %d unusable: %v", i, err)
			continue
		}
		usable++
		totalCells += len(item.Detections)
		for _, t := range item.Types {
			typeCounts[t+1]++ // report raw 1-based class ids
		}
	}

	fmt.Printf("samples: %d (%d usable)\n", ds.Len(), usable)
	fmt.Printf("cells:   %d\n", totalCells)
	types := make([]int, 0, len(typeCounts))
	for t := range typeCounts {
		types = append(types, t)
	}
	sort.Ints(types)
	for _, t := range types {
		fmt.Printf("  type %d: %d\n", t, typeCounts[t])
	}
}

func runRender(args []string) {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	root := fs.String("root", "", "dataset parent directory (required)")
	splitName := fs.String("split", "train", "split subdirectory")
	stem := fs.String("stem", "", "sample stem to render (required)")
	out := fs.String("out", "", "output PNG path (default <stem>_cells.png)")
	markerSize := fs.Int("marker", 2, "centroid marker half-size in pixels")
	fs.Parse(args)

	if *root == "" || *stem == "" {
		fs.Usage()
		os.Exit(2)
	}
	if *out == "" {
		*out = *stem + "_cells.png"
	}

	ds, err := dataset.New(dataset.Options{Root: *root, Split: *splitName})
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	var ref *dataset.SampleRef
	for i, s := range ds.Samples() {
		if s.Stem == *stem {
			ref = &ds.Samples()[i]
			break
		}
	}
	if ref == nil {
		log.Fatalf("render: stem %q not found in %s/%s", *stem, *root, *splitName)
	}

	img, err := imaging.Open(ref.ImagePath)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	instMap, typeMap, err := annotation.LoadMaps(ref.AnnotationPath)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	records, err := annotation.Extract(instMap, typeMap)
	if err != nil {
		log.Fatalf("render: %v", err)
	}

	overlay, err := renderOverlay(img, records, *markerSize)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	if !strings.EqualFold(filepath.Ext(*out), ".png") {
		*out += ".png"
	}
	if err := imaging.Save(overlay, *out); err != nil {
		log.Fatalf("render: %v", err)
	}
	fmt.Printf("%d cells rendered to %s\n", len(records), *out)
}

// renderOverlay draws one square marker per cell, colored by type.
func renderOverlay(img image.Image, records []annotation.CellRecord, half int) (image.Image, error) {
	maxType := 0
	for _, rec := range records {
		if rec.Type > maxType {
			maxType = rec.Type
		}
	}
	if maxType == 0 {
		maxType = 1
	}
	palette, err := colorful.HappyPalette(maxType)
	if err != nil {
		return nil, fmt.Errorf("failed to build %d-color palette: %w", maxType, err)
	}

	out := imaging.Clone(img)
	bounds := out.Bounds()
	for _, rec := range records {
		r, g, b := palette[rec.Type-1].RGB255()
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				x, y := rec.X+dx, rec.Y+dy
				if x < 0 || y < 0 || x >= bounds.Dx() || y >= bounds.Dy() {
					continue
				}
				i := out.PixOffset(x, y)
				out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = r, g, b, 255
			}
		}
	}
	return out, nil
}
