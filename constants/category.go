package constants

import (
	"strings"
)

// Category is the document family an extraction belongs to.
type Category string

const (
	Receipts             Category = "receipts"
	Invoices             Category = "invoices"
	CreditCardStatements Category = "credit card statements"
	OtherCategory        Category = "other"
)

var allCategories = []Category{
	Receipts,
	Invoices,
	CreditCardStatements,
}

// AsStringSlice returns the recognizable categories in classification order.
func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Slug is the file-name friendly form ("credit-card-statements").
func (c Category) Slug() string {
	return strings.ReplaceAll(string(c), " ", "-")
}

func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return OtherCategory, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = strings.ReplaceAll(normalized, "_", " ")

	synonyms := map[string]Category{
		"receipt":               Receipts,
		"invoice":               Invoices,
		"bill":                  Invoices,
		"credit card statement": CreditCardStatements,
		"card statement":        CreditCardStatements,
		"card statements":       CreditCardStatements,
		"statement":             CreditCardStatements,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == string(cat) {
			return cat, true
		}
	}

	return OtherCategory, false
}
