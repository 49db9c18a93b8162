package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
	"github.com/hydrowatch/flood-telemetry-service/internal/store/sqlite"
)

// hqfit fits a rating curve Q = a*(H-H0)^b to surveyed stage-discharge
// pairs and optionally writes the result into a node's calibration profile.
func main() {
	var (
		csvPath = flag.String("csv", "", "survey CSV with H and Q columns (meters, m^3/s)")
		method  = flag.String("method", defaultMethod(), "fit method: auto, solver, or grid")
		dbPath  = flag.String("db", "data/flood.sqlite", "sqlite database path")
		nodeID  = flag.String("node", "", "node to calibrate")
		apply   = flag.Bool("apply", false, "write the fitted profile to the database")
	)
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "hqfit: -csv is required")
		flag.Usage()
		os.Exit(2)
	}

	h, q, err := readSurvey(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hqfit: %v\n", err)
		os.Exit(1)
	}

	fitter := domain.NewFitter(*method)
	result := fitter.Fit(h, q)

	fmt.Printf("points: %d\n", len(h))
	fmt.Printf("a:      %.6g\n", result.A)
	fmt.Printf("b:      %.6g\n", result.B)
	fmt.Printf("h0_m:   %.6g\n", result.H0M)
	fmt.Printf("r2:     %.4f\n", result.R2)
	if math.IsInf(result.RMSE, 1) {
		fmt.Println("rmse:   +Inf (insufficient usable points, defaults returned)")
	} else {
		fmt.Printf("rmse:   %.6g\n", result.RMSE)
	}

	if !*apply {
		return
	}
	if *nodeID == "" {
		fmt.Fprintln(os.Stderr, "hqfit: -apply requires -node")
		os.Exit(2)
	}

	if err := applyProfile(*dbPath, *nodeID, result); err != nil {
		fmt.Fprintf(os.Stderr, "hqfit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("profile applied to node %s\n", *nodeID)
}

func defaultMethod() string {
	if m := os.Getenv("CALIBRATION_METHOD"); m != "" {
		return m
	}
	return "auto"
}

// readSurvey loads H and Q columns from a CSV file. Header names are matched
// case-insensitively, accepting h/h_m and q/q_m3s.
func readSurvey(path string) (h, q []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	hCol, qCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "h", "h_m":
			hCol = i
		case "q", "q_m3s":
			qCol = i
		}
	}
	if hCol < 0 || qCol < 0 {
		return nil, nil, fmt.Errorf("CSV must have H and Q columns, got %v", header)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		hv, err1 := strconv.ParseFloat(strings.TrimSpace(row[hCol]), 64)
		qv, err2 := strconv.ParseFloat(strings.TrimSpace(row[qCol]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		h = append(h, hv)
		q = append(q, qv)
	}
	return h, q, nil
}

// applyProfile writes the fit into the node's profile, preserving the
// node's configured sensor height.
func applyProfile(dbPath, nodeID string, result domain.FitResult) error {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		return err
	}
	repo := sqlite.NewRepository(db)

	ctx := context.Background()
	existing, err := repo.GetHQProfile(ctx, nodeID)
	if err != nil {
		return err
	}

	return repo.UpsertHQProfile(ctx, nodeID, domain.HQProfile{
		A:                       result.A,
		B:                       result.B,
		H0M:                     result.H0M,
		SensorHeightAboveCrestM: existing.SensorHeightAboveCrestM,
	})
}
