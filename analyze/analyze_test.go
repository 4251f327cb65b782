package analyze

import (
	"fmt"
	"strings"
	"testing"
)

func cells(values ...string) []string {
	return values
}

func repeat(values []string, times int) []string {
	out := make([]string, 0, len(values)*times)
	for i := 0; i < times; i++ {
		out = append(out, values...)
	}
	return out
}

func TestAnalyzeColumn_Type(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cells  []string
		want   string
	}{
		{"email header wins over numeric values", "Email", cells("123", "456", "789"), "email"},
		{"mail header in french", "Adresse mail", cells("a", "b"), "email"},
		{"phone header", "Téléphone fixe", cells("0612345678"), "tel"},
		{"url header", "Site web", cells("whatever"), "url"},
		{"datetime header", "Date et heure", cells("x"), "datetime"},
		{"date header alone", "Date de naissance", cells("x"), "date"},
		{"time header alone", "Heure d'arrivée", cells("x"), "time"},
		{"file header", "Document joint", cells("x"), "file"},
		{"image header", "Photo de profil", cells("x"), "image"},
		{"address header", "Adresse postale", cells("x"), "map"},
		{"empty column defaults to text", "Champ libre", cells("", "", ""), "text"},
		{"two boolean words is a checkbox", "Inscrit", repeat(cells("oui", "non"), 5), "checkbox"},
		{"yes/no is a checkbox", "Newsletter", repeat(cells("yes", "no"), 4), "checkbox"},
		{"two non boolean values is a radio", "Civilité", repeat(cells("M.", "Mme"), 5), "radio"},
		{"five distinct values is a radio", "Région", repeat(cells("a", "b", "c", "d", "e"), 4), "radio"},
		{"eight distinct values is a select", "Pays", repeat(cells("a", "b", "c", "d", "e", "f", "g", "h"), 4), "select"},
		{"ten unique in ten rows falls through to number", "Montant",
			cells("1", "2", "3", "4", "5", "6", "7", "8", "9", "10"), "number"},
		{"email value majority", "Contact principal",
			cells("a@b.fr", "c@d.com", "e@f.org", "not-an-email"), "email"},
		{"url value majority", "Référence externe",
			cells("https://a.fr", "http://b.com", "https://c.org", "x"), "url"},
		{"date value majority", "Échéance prévue",
			cells("2023-01-12", "12/06/2023", "2023-04-01", "n/a"), "date"},
		{"long mean value length is a textarea", "Commentaire",
			cells(strings.Repeat("x", 150), strings.Repeat("y", 120)), "textarea"},
		{"plain values default to text", "Libellé", cells("alpha", "beta", "gamma", "delta"), "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyzeColumn(tt.header, tt.cells)
			if got.Type != tt.want {
				t.Errorf("analyzeColumn(%q).Type = %q, want %q", tt.header, got.Type, tt.want)
			}
		})
	}
}

func TestAnalyzeColumn_FillRate(t *testing.T) {
	got := analyzeColumn("Libellé", cells("a", "b", "c", "", "d", "", "e", "f", "", "g"))
	if got.FillRate != 70 {
		t.Errorf("FillRate = %d, want 70", got.FillRate)
	}
	if got.Required {
		t.Error("Required = true at 70% fill without a marker")
	}
}

func TestAnalyzeColumn_Required(t *testing.T) {
	t.Run("star marker", func(t *testing.T) {
		got := analyzeColumn("Nom *", cells("", "", "x"))
		if !got.Required {
			t.Error("Required = false with a * marker")
		}
		if got.Label != "Nom" {
			t.Errorf("Label = %q, want %q", got.Label, "Nom")
		}
	})

	t.Run("high fill rate", func(t *testing.T) {
		got := analyzeColumn("Libellé", cells("a", "b", "c", "d", "e"))
		if !got.Required {
			t.Error("Required = false at 100% fill")
		}
	})
}

func TestAnalyzeColumn_OptionsCap(t *testing.T) {
	values := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		values = append(values, fmt.Sprintf("option %02d", i))
	}
	values = repeat(values, 4)

	got := analyzeColumn("Catégorie", values)
	if got.Type != "select" {
		t.Fatalf("Type = %q, want select", got.Type)
	}
	if len(got.Options) != 10 {
		t.Fatalf("len(Options) = %d, want 10", len(got.Options))
	}
	for i, opt := range got.Options {
		if want := fmt.Sprintf("option %02d", i); opt != want {
			t.Errorf("Options[%d] = %q, want %q (first-seen order)", i, opt, want)
		}
	}
}

func TestExtractOptions_Cap(t *testing.T) {
	distinct := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		distinct = append(distinct, fmt.Sprintf("v%02d", i))
	}

	got := extractOptions(distinct)
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0] != "v00" || got[19] != "v19" {
		t.Errorf("first-seen order not preserved: %v", got)
	}
}

func TestAnalyzeColumn_SampleValues(t *testing.T) {
	got := analyzeColumn("Libellé", cells("a", "", "b", "c", "d", "e", "f", "g"))
	if len(got.SampleValues) != 5 {
		t.Fatalf("len(SampleValues) = %d, want 5", len(got.SampleValues))
	}
	if got.SampleValues[0] != "a" || got.SampleValues[4] != "e" {
		t.Errorf("SampleValues = %v, want first five non-empty cells", got.SampleValues)
	}
}

func TestAnalyze_SkipsEmptyHeaders(t *testing.T) {
	g := Grid{
		Headers: []string{"Nom", "", "Email"},
		Rows: [][]string{
			{"a", "x", "a@b.fr"},
			{"b", "y", "c@d.fr"},
		},
	}
	got := Analyze(g)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Label != "Nom" || got[1].Label != "Email" {
		t.Errorf("labels = %q, %q", got[0].Label, got[1].Label)
	}
	if got[1].Type != "email" {
		t.Errorf("type = %q, want email", got[1].Type)
	}
}

func TestReadGrid_UnsupportedFormat(t *testing.T) {
	_, err := ReadGrid("notes.txt", strings.NewReader("a,b\n1,2\n"))
	if err != ErrUnsupportedFile {
		t.Errorf("err = %v, want ErrUnsupportedFile", err)
	}
}

func TestReadGrid_CSV(t *testing.T) {
	g, err := ReadGrid("export.csv", strings.NewReader("Nom,Email\nalice,a@b.fr\nbob,c@d.fr\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Headers) != 2 || len(g.Rows) != 2 {
		t.Fatalf("grid shape = %dx%d headers/rows", len(g.Headers), len(g.Rows))
	}
	if got := g.Column(1); got[0] != "a@b.fr" || got[1] != "c@d.fr" {
		t.Errorf("Column(1) = %v", got)
	}
}

func TestReadGrid_EmptyCSV(t *testing.T) {
	_, err := ReadGrid("vide.csv", strings.NewReader(""))
	if err == nil {
		t.Error("expected error on empty sheet")
	}
}
