package loader

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

const parquetReadBatch = 8192

// claimRow is the Parquet layout of the public extract.
type claimRow struct {
	BillingNPI    string  `parquet:"BILLING_PROVIDER_NPI_NUM"`
	ServicingNPI  string  `parquet:"SERVICING_PROVIDER_NPI_NUM,optional"`
	Code          string  `parquet:"HCPCS_CODE"`
	Month         string  `parquet:"CLAIM_FROM_MONTH"`
	Beneficiaries int64   `parquet:"TOTAL_UNIQUE_BENEFICIARIES,optional"`
	TotalClaims   int64   `parquet:"TOTAL_CLAIMS,optional"`
	TotalPaid     float64 `parquet:"TOTAL_PAID"`
}

func (r *claimRow) claim() (spending.Claim, error) {
	c := spending.Claim{
		BillingNPI:    strings.TrimSpace(r.BillingNPI),
		ServicingNPI:  strings.TrimSpace(r.ServicingNPI),
		Code:          strings.ToUpper(strings.TrimSpace(r.Code)),
		Beneficiaries: r.Beneficiaries,
		TotalClaims:   r.TotalClaims,
		TotalPaid:     spending.NewMoney(decimal.NewFromFloat(r.TotalPaid).Round(2)),
	}
	if c.BillingNPI == "" || c.Code == "" {
		return c, errors.New("billing npi and hcpcs code are required")
	}
	if c.Beneficiaries < 0 || c.TotalClaims < 0 {
		return c, errors.New("counts must not be negative")
	}
	m, err := spending.ParseMonth(strings.TrimSpace(r.Month))
	if err != nil {
		return c, err
	}
	c.Month = m
	return c, nil
}

// ReadClaimsParquet streams claims from a Parquet file to fn.
func ReadClaimsParquet(r io.ReaderAt, fn func(spending.Claim) error) error {
	reader := parquet.NewGenericReader[claimRow](r)
	defer func() { _ = reader.Close() }()

	buf := make([]claimRow, parquetReadBatch)
	var rowNum int64
	for {
		n, readErr := reader.Read(buf)
		for i := range n {
			rowNum++
			claim, err := buf[i].claim()
			if err != nil {
				return fmt.Errorf("row %d: %w", rowNum, err)
			}
			if err := fn(claim); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading parquet: %w", readErr)
		}
	}
}
