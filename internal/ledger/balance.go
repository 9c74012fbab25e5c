package ledger

import "github.com/shopspring/decimal"

// ResolvedPosting is a posting input with its final amount filled in.
type ResolvedPosting struct {
	PostingInput
	Amount decimal.Decimal
}

// ResolvePostings normalizes the inputs and enforces the double-entry
// invariant. Store implementations call it before persisting anything, so a
// rejected posting set never touches storage.
func ResolvePostings(inputs []PostingInput) ([]ResolvedPosting, error) {
	return resolvePostings(normalizePostings(inputs))
}

// resolvePostings applies the double-entry invariant to a posting set before
// anything is persisted. Two passes: sum the known amounts per currency,
// remembering the index of the single posting allowed to omit its amount;
// then fill that posting with the negated sum of its currency group and
// verify every group nets to zero within tolerance.
//
// At most one unknown per transaction is a hard constraint, not an oversight:
// a second omitted amount fails with ErrMultipleAutoBalance.
func resolvePostings(inputs []PostingInput) ([]ResolvedPosting, error) {
	auto := -1
	sums := map[string]decimal.Decimal{}
	for i, in := range inputs {
		if in.Amount == nil {
			if auto >= 0 {
				return nil, ErrMultipleAutoBalance
			}
			auto = i
			continue
		}
		sums[in.Currency] = sums[in.Currency].Add(*in.Amount)
	}

	out := make([]ResolvedPosting, len(inputs))
	for i, in := range inputs {
		rp := ResolvedPosting{PostingInput: in}
		if i == auto {
			rp.Amount = sums[in.Currency].Neg()
			sums[in.Currency] = decimal.Zero
		} else {
			rp.Amount = *in.Amount
		}
		out[i] = rp
	}

	for cur, sum := range sums {
		if sum.Abs().Cmp(balanceTolerance) >= 0 {
			return nil, &UnbalancedError{Currency: cur, Residual: sum}
		}
	}
	return out, nil
}

// normalizePostings fills in default currencies and normalized dates on a
// copy of the inputs.
func normalizePostings(inputs []PostingInput) []PostingInput {
	out := make([]PostingInput, len(inputs))
	for i, in := range inputs {
		if in.Currency == "" {
			in.Currency = DefaultCurrency
		}
		if in.CostDate != nil {
			d := NormalizeDate(*in.CostDate)
			in.CostDate = &d
		}
		out[i] = in
	}
	return out
}
