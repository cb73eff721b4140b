// Package loader reads claim extracts from CSV or Parquet and bulk loads
// them into PostgreSQL.
package loader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

const readBufferSize = 256 * 1024

// column lists the accepted header names for one field. The first name is
// the one published in the public extract.
type column []string

var (
	colBillingNPI    = column{"billing_provider_npi_num", "billing_npi"}
	colServicingNPI  = column{"servicing_provider_npi_num", "servicing_npi"}
	colCode          = column{"hcpcs_code", "code"}
	colMonth         = column{"claim_from_month", "claim_month"}
	colBeneficiaries = column{"total_unique_beneficiaries", "beneficiaries"}
	colTotalClaims   = column{"total_claims"}
	colTotalPaid     = column{"total_paid"}

	colNPI         = column{"npi"}
	colName        = column{"name", "provider_name"}
	colSpecialty   = column{"specialty"}
	colCity        = column{"city"}
	colState       = column{"state"}
	colDescription = column{"description"}
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvSource streams records with header-based column lookup.
type csvSource struct {
	csv    *csv.Reader
	colIdx map[string]int
	record []string
}

func newCSVSource(r io.Reader) (*csvSource, error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file: missing header row")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return &csvSource{csv: cr, colIdx: idx}, nil
}

// require fails when none of the column's names is in the header.
func (s *csvSource) require(cols ...column) error {
	var missing []string
	for _, c := range cols {
		if s.index(c) < 0 {
			missing = append(missing, strings.ToUpper(c[0]))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *csvSource) index(c column) int {
	for _, name := range c {
		if i, ok := s.colIdx[name]; ok {
			return i
		}
	}
	return -1
}

// next advances to the next record, returning io.EOF at the end.
func (s *csvSource) next() error {
	rec, err := s.csv.Read()
	if err != nil {
		return err
	}
	s.record = rec
	return nil
}

// line is the input line of the current record.
func (s *csvSource) line() int {
	line, _ := s.csv.FieldPos(0)
	return line
}

func (s *csvSource) get(c column) string {
	i := s.index(c)
	if i < 0 || i >= len(s.record) {
		return ""
	}
	return strings.TrimSpace(s.record[i])
}

func (s *csvSource) count(c column) (int64, error) {
	v := s.get(c)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Some extracts write counts as "12.0".
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("%s: invalid integer %q", c[0], v)
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative value %d", c[0], n)
	}
	return n, nil
}

func (s *csvSource) money(c column) (spending.Money, error) {
	v := s.get(c)
	if v == "" {
		return spending.MoneyFromInt(0), nil
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(v, "$"))
	if err != nil {
		return spending.Money{}, fmt.Errorf("%s: invalid amount %q", c[0], v)
	}
	return spending.NewMoney(d.Round(2)), nil
}

// ReadClaimsCSV streams claims from r to fn. The header row names the
// columns; both the published upper-case names and the table column names
// are accepted.
func ReadClaimsCSV(r io.Reader, fn func(spending.Claim) error) error {
	src, err := newCSVSource(r)
	if err != nil {
		return err
	}
	if err := src.require(colBillingNPI, colCode, colMonth, colTotalPaid); err != nil {
		return err
	}

	for {
		if err := src.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading csv: %w", err)
		}
		claim, err := src.claim()
		if err != nil {
			return fmt.Errorf("line %d: %w", src.line(), err)
		}
		if err := fn(claim); err != nil {
			return err
		}
	}
}

func (s *csvSource) claim() (spending.Claim, error) {
	c := spending.Claim{
		BillingNPI:   s.get(colBillingNPI),
		ServicingNPI: s.get(colServicingNPI),
		Code:         strings.ToUpper(s.get(colCode)),
	}
	if c.BillingNPI == "" || c.Code == "" {
		return c, errors.New("billing npi and hcpcs code are required")
	}

	var err error
	if c.Month, err = spending.ParseMonth(s.get(colMonth)); err != nil {
		return c, err
	}
	if c.Beneficiaries, err = s.count(colBeneficiaries); err != nil {
		return c, err
	}
	if c.TotalClaims, err = s.count(colTotalClaims); err != nil {
		return c, err
	}
	if c.TotalPaid, err = s.money(colTotalPaid); err != nil {
		return c, err
	}
	return c, nil
}

// ReadProvidersCSV streams provider directory entries from r to fn.
func ReadProvidersCSV(r io.Reader, fn func(spending.ProviderInfo) error) error {
	src, err := newCSVSource(r)
	if err != nil {
		return err
	}
	if err := src.require(colNPI); err != nil {
		return err
	}

	for {
		if err := src.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading csv: %w", err)
		}
		p := spending.ProviderInfo{
			NPI:       src.get(colNPI),
			Name:      src.get(colName),
			Specialty: src.get(colSpecialty),
			City:      src.get(colCity),
			State:     strings.ToUpper(src.get(colState)),
		}
		if p.NPI == "" {
			return fmt.Errorf("line %d: npi is required", src.line())
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

// ReadCodesCSV streams procedure code descriptions from r to fn.
func ReadCodesCSV(r io.Reader, fn func(spending.CodeInfo) error) error {
	src, err := newCSVSource(r)
	if err != nil {
		return err
	}
	if err := src.require(colCode, colDescription); err != nil {
		return err
	}

	for {
		if err := src.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading csv: %w", err)
		}
		c := spending.CodeInfo{
			Code:        strings.ToUpper(src.get(colCode)),
			Description: src.get(colDescription),
		}
		if c.Code == "" {
			return fmt.Errorf("line %d: code is required", src.line())
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}
