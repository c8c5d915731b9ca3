package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTask_RecordFileName(t *testing.T) {
	task := Task{Keyword: "macbook air m1"}
	assert.Equal(t, "macbook_air_m1_full_data.jsonl", task.RecordFileName())
}

func TestTask_HasPriceBand(t *testing.T) {
	assert.False(t, Task{}.HasPriceBand())
	assert.False(t, Task{MinPrice: "  "}.HasPriceBand())
	assert.True(t, Task{MinPrice: "100"}.HasPriceBand())
	assert.True(t, Task{MaxPrice: "5000"}.HasPriceBand())
}

func TestPolarityFromCode(t *testing.T) {
	tests := []struct {
		code int
		ok   bool
		want Polarity
	}{
		{1, true, PolarityPositive},
		{0, true, PolarityNeutral},
		{-1, true, PolarityNegative},
		{7, true, PolarityUnknown},
		{1, false, PolarityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PolarityFromCode(tt.code, tt.ok))
	}
}

func TestListing_ImageURLs(t *testing.T) {
	assert.Nil(t, Listing{}.ImageURLs())
	assert.Equal(t, []string{"m"}, Listing{MainImage: "m"}.ImageURLs())
	assert.Equal(t, []string{"a", "b"}, Listing{MainImage: "m", Images: []string{"a", "b"}}.ImageURLs())
}

func TestRecord_Recommended(t *testing.T) {
	assert.False(t, Record{}.Recommended())
	assert.False(t, Record{AnalysisError: "boom"}.Recommended())
	assert.False(t, Record{Verdict: &Verdict{}}.Recommended())
	assert.True(t, Record{Verdict: &Verdict{IsRecommended: true}}.Recommended())
}
