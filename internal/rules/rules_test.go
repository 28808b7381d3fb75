package rules

import (
	"errors"
	"testing"
)

func TestDefaultRules(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("loading default rules: %v", err)
	}

	wantCategories := []string{"sales_experience", "hard_skills", "soft_skills", "performance_metrics"}
	if len(set.Features) != len(wantCategories) {
		t.Fatalf("expected %d feature categories, got %d", len(wantCategories), len(set.Features))
	}
	for i, name := range wantCategories {
		if set.Features[i].Name != name {
			t.Fatalf("category #%d: expected %q, got %q", i, name, set.Features[i].Name)
		}
	}

	if len(set.RedFlags) != 6 {
		t.Fatalf("expected 6 red flag domains, got %d", len(set.RedFlags))
	}
	if len(set.Skills) != 7 {
		t.Fatalf("expected 7 skills, got %d", len(set.Skills))
	}
}

func TestStopwordSet(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("loading default rules: %v", err)
	}

	stops := set.StopwordSet()

	for _, kept := range []string{"без", "для", "по", "при", "над"} {
		if _, ok := stops[kept]; ok {
			t.Fatalf("expected %q to be kept out of stopwords", kept)
		}
	}

	for _, added := range []string{"резюме", "зарплата", "опыт", "и"} {
		if _, ok := stops[added]; !ok {
			t.Fatalf("expected %q to be a stopword", added)
		}
	}
}

func TestCategoryCount(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("loading default rules: %v", err)
	}

	sales := set.Features[0]
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single", text: "скрипт", want: 1},
		{name: "several", text: "звонки скрипт воронка телемаркетинг", want: 4},
		{name: "lowercase crm does not hit the uppercase pattern", text: "crm", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sales.Count(tt.text); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseRejectsInvalidTables(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "no features",
			data: "stopwords: {base: [и]}\nphone_sales: [лиды]\n",
		},
		{
			name: "bad regexp",
			data: "stopwords: {base: [и]}\nphone_sales: [лиды]\nfeatures:\n  - name: x\n    patterns: ['(']\n",
		},
		{
			name: "duplicate category",
			data: "stopwords: {base: [и]}\nphone_sales: [лиды]\nfeatures:\n  - {name: x, patterns: [a]}\n  - {name: x, patterns: [b]}\n",
		},
		{
			name: "empty red flag",
			data: "stopwords: {base: [и]}\nphone_sales: [лиды]\nfeatures:\n  - {name: x, patterns: [a]}\nred_flags:\n  - {domain: авто}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, ErrInvalidRules) {
				t.Fatalf("expected ErrInvalidRules, got %v", err)
			}
		})
	}
}

func TestKeywordsMatchCaseInsensitively(t *testing.T) {
	data := "stopwords: {base: [и]}\n" +
		"phone_sales: [Холодные Звонки]\n" +
		"features:\n  - {name: x, patterns: [a]}\n" +
		"red_flags:\n  - {domain: авто, keywords: [АвтоСалон]}\n" +
		"skills:\n  - {name: CRM, keywords: [CRM]}\n"

	set, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lower := "работала в автосалоне, вела crm, холодные звонки"
	if !set.RedFlags[0].Matches(lower) {
		t.Fatalf("expected red flag keyword to match lowercased text")
	}
	if !set.Skills[0].Matches(lower) {
		t.Fatalf("expected skill keyword to match lowercased text")
	}
	if !set.HasPhoneSales(lower) {
		t.Fatalf("expected phone sales indicator to match lowercased text")
	}
}
