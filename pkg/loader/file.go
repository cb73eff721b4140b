package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// Format is a claims file format.
type Format string

// Supported formats.
const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported file type %q: expected .csv or .parquet", filepath.Ext(path))
	}
}

// ReadClaimsFile streams claims from a CSV or Parquet file.
func ReadClaimsFile(path string, fn func(spending.Claim) error) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}

	// #nosec G304 -- path is from CLI args or config, controlled by admin
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if format == FormatParquet {
		return ReadClaimsParquet(f, fn)
	}
	return ReadClaimsCSV(f, fn)
}

// Files names the inputs of one load. Providers and Codes are optional.
type Files struct {
	Claims    string
	Providers string
	Codes     string
}

// Dataset is a fully materialized extract.
type Dataset struct {
	Claims    []spending.Claim
	Providers []spending.ProviderInfo
	Codes     []spending.CodeInfo
}

// ReadDataset reads every file in files into memory.
func ReadDataset(files Files) (*Dataset, error) {
	var ds Dataset
	err := ReadClaimsFile(files.Claims, func(c spending.Claim) error {
		ds.Claims = append(ds.Claims, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading claims: %w", err)
	}

	if files.Providers != "" {
		err := readCSVFile(files.Providers, func(f *os.File) error {
			return ReadProvidersCSV(f, func(p spending.ProviderInfo) error {
				ds.Providers = append(ds.Providers, p)
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("reading providers: %w", err)
		}
	}

	if files.Codes != "" {
		err := readCSVFile(files.Codes, func(f *os.File) error {
			return ReadCodesCSV(f, func(c spending.CodeInfo) error {
				ds.Codes = append(ds.Codes, c)
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("reading codes: %w", err)
		}
	}

	return &ds, nil
}

func readCSVFile(path string, fn func(*os.File) error) error {
	// #nosec G304 -- path is from CLI args or config, controlled by admin
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return fn(f)
}
