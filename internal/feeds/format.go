package feeds

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

const notAvailable = "N/A"

func signedComma(n float64) string {
	if n > 0 {
		return "+" + humanize.Commaf(n)
	}
	return humanize.Commaf(n)
}

// keyNum renders a share count for history keys: whole numbers without a
// decimal point, fractions with as many digits as needed.
func keyNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// dollars renders v with thousands separators and at most two decimals.
func dollars(v float64) string {
	if v == 0 {
		return notAvailable
	}
	s := humanize.CommafWithDigits(math.Round(math.Abs(v)*100)/100, 2)
	if v < 0 {
		return "-$" + s
	}
	return "$" + s
}

func billions(v float64) string {
	return fmt.Sprintf("$%.2fB", v/1e9)
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

var transactionCodes = map[string]string{
	"A": "Grant/Award",
	"C": "Conversion",
	"D": "Sale to Issuer",
	"E": "Expiration",
	"F": "Tax Withholding",
	"G": "Gift",
	"H": "Held",
	"I": "Discretionary Transaction",
	"J": "Other",
	"K": "Equity Swap",
	"L": "Small Acquisition",
	"M": "Exercise of Options",
	"P": "Open Market Purchase",
	"S": "Open Market Sale",
	"U": "Tender of Shares",
	"V": "Voluntary Transaction",
	"W": "Acquisition/Disposition by Will",
	"X": "Exercise of Out-of-the-Money Options",
	"Z": "Deposit/Withdrawal from Voting Trust",
}

func transactionCode(code string) string {
	if d, ok := transactionCodes[code]; ok {
		return d
	}
	return "Other Transaction"
}
