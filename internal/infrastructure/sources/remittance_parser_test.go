package sources

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payops/recon/internal/domain/shared"
)

const oasysSample = "Account Number: V00121139\n" +
	"Payment date: 20260208\n" +
	"Payment Amount : 26,872.70\n" +
	"Ref Number\tInv Nbr\tInvoice description\tCompany Statement Name\tInv Date\tInv Orig Amt\tAmt Pd\tDisc Amt\n" +
	"OMPS-PR0005742\tNVC7KTPCPVVV\tCat Ventura\tOmni Prod. LLC\t20260129\t600.00\t600.00\t0.00\n" +
	"OMPS-PR0005742\tNVC7KY46WXLW\tChris James Champeau\tOmni Prod. LLC\t20260202\t14,272.70\t14,272.70\t0.00\n" +
	"OMPS-PR0005742\tNVC7KVC7X37T\tChristopher Hall\tOmni Prod. LLC\t20260130\t12,000.00\t12,000.00\t0.00\n"

// utf16Bytes encodes ASCII text as UTF-16 with a BOM, in either byte
// order, the way OASYS exports arrive.
func utf16Bytes(t *testing.T, s string, littleEndian bool) []byte {
	t.Helper()
	var out []byte
	if littleEndian {
		out = []byte{0xFF, 0xFE}
	} else {
		out = []byte{0xFE, 0xFF}
	}
	for _, r := range s {
		require.Less(t, r, rune(0x10000))
		if littleEndian {
			out = append(out, byte(r), byte(r>>8))
		} else {
			out = append(out, byte(r>>8), byte(r))
		}
	}
	return out
}

func TestDecodeAttachmentText(t *testing.T) {
	t.Run("utf-16 little endian with BOM", func(t *testing.T) {
		text, err := DecodeAttachmentText(utf16Bytes(t, "Account Number: V1", true))
		require.NoError(t, err)
		assert.Equal(t, "Account Number: V1", text)
	})

	t.Run("utf-16 big endian with BOM", func(t *testing.T) {
		text, err := DecodeAttachmentText(utf16Bytes(t, "Account Number: V1", false))
		require.NoError(t, err)
		assert.Equal(t, "Account Number: V1", text)
	})

	t.Run("utf-8 with BOM", func(t *testing.T) {
		text, err := DecodeAttachmentText(append([]byte{0xEF, 0xBB, 0xBF}, []byte("plain")...))
		require.NoError(t, err)
		assert.Equal(t, "plain", text)
	})

	t.Run("plain utf-8", func(t *testing.T) {
		text, err := DecodeAttachmentText([]byte("plain"))
		require.NoError(t, err)
		assert.Equal(t, "plain", text)
	})

	t.Run("latin-1 fallback", func(t *testing.T) {
		// 0xE9 is é in Latin-1 and invalid standalone UTF-8.
		text, err := DecodeAttachmentText([]byte{'C', 'a', 'f', 0xE9})
		require.NoError(t, err)
		assert.Equal(t, "Café", text)
	})
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"26,872.70", "26872.7"},
		{" 600.00 ", "600"},
		{"", "0"},
		{"-", "0"},
		{"1,234,567.89", "1234567.89"},
		{"-42.50", "-42.5"},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got.String(), "input %q", tc.in)
	}

	_, err := ParseAmount("abc")
	assert.Error(t, err)
}

func TestParseRemittanceCSV(t *testing.T) {
	t.Run("parses OASYS sample", func(t *testing.T) {
		advice, err := ParseRemittanceCSV([]byte(oasysSample), "oasys", "email-1",
			"Payment Remittance On behalf of OGI Shared Service Center Advertising LLC")
		require.NoError(t, err)

		assert.Equal(t, "oasys", advice.Source)
		assert.Equal(t, "email-1", advice.EmailID)
		assert.Equal(t, "V00121139", advice.AccountNumber)
		require.NotNil(t, advice.PaymentDate)
		assert.Equal(t, "2026-02-08", advice.PaymentDate.Format("2006-01-02"))
		require.NotNil(t, advice.PaymentAmount)
		assert.True(t, advice.PaymentAmount.Equal(decimal.RequireFromString("26872.70")))
		assert.Equal(t, "OGI Shared Service Center Advertising LLC", advice.AgencyName)

		require.Len(t, advice.Lines, 3)
		first := advice.Lines[0]
		assert.Equal(t, "OMPS-PR0005742", first.PayrunRef)
		assert.Equal(t, "NVC7KTPCPVVV", first.NVCCode)
		assert.Equal(t, "Cat Ventura", first.ContractorName)
		assert.Equal(t, "Omni Prod. LLC", first.Company)
		assert.True(t, first.AmountPaid.Equal(decimal.RequireFromString("600.00")))

		assert.True(t, advice.LinesTotal().Equal(decimal.RequireFromString("26872.70")))
		assert.Equal(t, []string{"NVC7KTPCPVVV", "NVC7KY46WXLW", "NVC7KVC7X37T"}, advice.NVCCodes())
	})

	t.Run("parses UTF-16LE payload", func(t *testing.T) {
		advice, err := ParseRemittanceCSV(utf16Bytes(t, oasysSample, true), "oasys", "email-2", "")
		require.NoError(t, err)
		assert.Equal(t, "V00121139", advice.AccountNumber)
		assert.Len(t, advice.Lines, 3)
	})

	t.Run("parses UTF-16BE payload", func(t *testing.T) {
		advice, err := ParseRemittanceCSV(utf16Bytes(t, oasysSample, false), "oasys", "email-3", "")
		require.NoError(t, err)
		assert.Len(t, advice.Lines, 3)
	})

	t.Run("skips broken rows and keeps the rest", func(t *testing.T) {
		payload := "Account Number: V1\n" +
			"Ref Number\tInv Nbr\tDesc\tCompany\tInv Date\tInv Orig Amt\tAmt Pd\tDisc Amt\n" +
			"short\trow\n" +
			"REF1\t\tNo Code\tCo\t20260101\t10.00\t10.00\t0.00\n" +
			"REF2\tNVC7KAAAA01\tBad Amount\tCo\t20260101\tnot-a-number\t10.00\t0.00\n" +
			"REF3\tNVC7KAAAA02\tGood\tCo\t20260101\t-\t25.00\n"
		advice, err := ParseRemittanceCSV([]byte(payload), "d365_ach", "email-4", "")
		require.NoError(t, err)
		require.Len(t, advice.Lines, 1)
		line := advice.Lines[0]
		assert.Equal(t, "NVC7KAAAA02", line.NVCCode)
		assert.True(t, line.OriginalAmount.IsZero())
		assert.True(t, line.AmountPaid.Equal(decimal.RequireFromString("25.00")))
		assert.True(t, line.Discount.IsZero())
	})

	t.Run("header only still parses", func(t *testing.T) {
		advice, err := ParseRemittanceCSV([]byte("Account Number: V9\n"), "oasys", "email-5", "")
		require.NoError(t, err)
		assert.Equal(t, "V9", advice.AccountNumber)
		assert.Empty(t, advice.Lines)
		assert.Nil(t, advice.PaymentAmount)
	})

	t.Run("rows before the column header are ignored", func(t *testing.T) {
		payload := "Account Number: V1\n" +
			"REF0\tNVC7KEARLY01\tEarly\tCo\t20260101\t5.00\t5.00\t0.00\n" +
			"Ref Number\tInv Nbr\tDesc\tCompany\tInv Date\tInv Orig Amt\tAmt Pd\tDisc Amt\n" +
			"REF1\tNVC7KLATE001\tLate\tCo\t20260101\t7.00\t7.00\t0.00\n"
		advice, err := ParseRemittanceCSV([]byte(payload), "oasys", "email-6", "")
		require.NoError(t, err)
		require.Len(t, advice.Lines, 1)
		assert.Equal(t, "NVC7KLATE001", advice.Lines[0].NVCCode)
	})

	t.Run("unparseable payment date is dropped", func(t *testing.T) {
		payload := "Account Number: V1\nPayment date: Feb 8 2026\n"
		advice, err := ParseRemittanceCSV([]byte(payload), "oasys", "email-7", "")
		require.NoError(t, err)
		assert.Nil(t, advice.PaymentDate)
	})

	t.Run("empty payload is malformed", func(t *testing.T) {
		_, err := ParseRemittanceCSV([]byte("no headers here\n"), "oasys", "email-8", "")
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.True(t, errors.As(err, &domainErr))
		assert.Equal(t, "SOURCE_MALFORMED", domainErr.Code)
	})

	t.Run("windows line endings", func(t *testing.T) {
		payload := strings.ReplaceAll(oasysSample, "\n", "\r\n")
		advice, err := ParseRemittanceCSV([]byte(payload), "oasys", "email-9", "")
		require.NoError(t, err)
		assert.Len(t, advice.Lines, 3)
	})
}
