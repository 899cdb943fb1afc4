// Package sources contains the pull-only adapters that feed the
// reconciliation engine: the mail-store email client, the operations
// database reader and the payment processor client, plus the remittance
// attachment parser they share. Adapters classify failures through the
// shared error kinds so the engine can tell an unreachable source from an
// undecodable record.
package sources

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeAttachmentText converts a raw attachment payload to text. OASYS
// exports arrive as UTF-16 little-endian with a BOM, D365 exports as
// UTF-8 with or without one; payloads that are not valid UTF-8 fall back
// to Latin-1 so one stray byte cannot sink the attachment.
func DecodeAttachmentText(data []byte) (string, error) {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("decode utf-16le: %w", err)
		}
		return string(decoded), nil
	case len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF:
		decoded, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("decode utf-16be: %w", err)
		}
		return string(decoded), nil
	case bytes.HasPrefix(data, utf8BOM):
		return string(bytes.TrimPrefix(data, utf8BOM)), nil
	case utf8.Valid(data):
		return string(data), nil
	default:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("decode latin-1: %w", err)
		}
		return string(decoded), nil
	}
}

// ParseAmount parses a formatted amount like "26,872.70". Empty strings
// and the bare dash OASYS writes in zero columns parse as zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// ParseRemittanceCSV parses one remittance attachment. Both OASYS and the
// D365 ACH export share the layout: header lines
//
//	Account Number: V00121139
//	Payment date: 20260208
//	Payment Amount : 26,872.70
//
// followed by a tab-delimited column header ("Ref Number ... Inv Nbr ...")
// and tab-delimited line items. Rows that fail to parse are skipped; an
// attachment yielding neither an account number nor any line items is
// malformed.
func ParseRemittanceCSV(data []byte, source, emailID, subject string) (*recon.RemittanceAdvice, error) {
	text, err := DecodeAttachmentText(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceMalformed, err)
	}

	advice := &recon.RemittanceAdvice{
		Source:     source,
		EmailID:    emailID,
		AgencyName: recon.ExtractAgencyFromSubject(subject),
	}

	headerFound := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.Trim(raw, "\r\n\t \uFEFF")
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "Account Number:") {
			advice.AccountNumber = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(line, "Payment date:") {
			if d, perr := time.Parse("20060102", strings.TrimSpace(strings.SplitN(line, ":", 2)[1])); perr == nil {
				advice.PaymentDate = &d
			}
			continue
		}
		// OASYS writes "Payment Amount :", D365 "Payment Amount:".
		if strings.HasPrefix(line, "Payment Amount") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				if amt, perr := ParseAmount(parts[1]); perr == nil {
					advice.PaymentAmount = &amt
				}
			}
			continue
		}

		if strings.Contains(line, "Ref Number") && strings.Contains(line, "Inv Nbr") {
			headerFound = true
			continue
		}
		if !headerFound {
			continue
		}

		if item, ok := parseLineItem(line); ok {
			advice.Lines = append(advice.Lines, item)
		}
	}

	if advice.AccountNumber == "" && len(advice.Lines) == 0 {
		return nil, fmt.Errorf("%w: attachment yielded no account number and no line items", shared.ErrSourceMalformed)
	}
	return advice, nil
}

// parseLineItem parses one tab-delimited row: ref number, invoice number
// (the NVC code), contractor, company, invoice date, original amount,
// amount paid and optionally a discount. Short, amount-broken or
// code-less rows report ok=false.
func parseLineItem(line string) (recon.RemittanceLine, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 7 {
		return recon.RemittanceLine{}, false
	}

	nvc := strings.TrimSpace(parts[1])
	if nvc == "" {
		return recon.RemittanceLine{}, false
	}

	origAmt, err := ParseAmount(parts[5])
	if err != nil {
		return recon.RemittanceLine{}, false
	}
	amtPaid, err := ParseAmount(parts[6])
	if err != nil {
		return recon.RemittanceLine{}, false
	}
	discount := decimal.Zero
	if len(parts) > 7 {
		discount, err = ParseAmount(parts[7])
		if err != nil {
			return recon.RemittanceLine{}, false
		}
	}

	return recon.RemittanceLine{
		PayrunRef:      strings.TrimSpace(parts[0]),
		NVCCode:        nvc,
		ContractorName: strings.TrimSpace(parts[2]),
		Company:        strings.TrimSpace(parts[3]),
		InvoiceDate:    strings.TrimSpace(parts[4]),
		OriginalAmount: origAmt,
		AmountPaid:     amtPaid,
		Discount:       discount,
	}, true
}
