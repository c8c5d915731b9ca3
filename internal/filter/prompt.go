package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"xianyuwatch/internal/types"
)

// promptRecord is the record as the model sees it.
type promptRecord struct {
	Listing types.Listing       `json:"listing"`
	Seller  types.SellerProfile `json:"seller"`
}

// BuildPrompt joins the rubric with the indented record JSON.
func BuildPrompt(rubric string, rec types.Record) (string, error) {
	data, err := json.MarshalIndent(promptRecord{Listing: rec.Listing, Seller: rec.Seller}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(rubric, "\n"))
	b.WriteString("\n\nBased on your expertise and my requirements, analyze the following complete listing JSON:\n\n```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
	return b.String(), nil
}
