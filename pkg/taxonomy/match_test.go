package taxonomy

import (
	"testing"
)

func TestChooseMatch(t *testing.T) {

	exact := Match{MatchedName: "exact", Score: 1, Taxon: Taxon{OttID: 1}}
	fuzzy := Match{MatchedName: "fuzzy", Score: 1, IsApproximateMatch: true, Taxon: Taxon{OttID: 2}}
	synonym := Match{MatchedName: "synonym", Score: 1, IsSynonym: true, Taxon: Taxon{OttID: 3}}
	suppressed := Match{MatchedName: "suppressed", Score: 1, Taxon: Taxon{OttID: 4, IsSuppressed: true}}
	flagged := Match{MatchedName: "flagged", Score: 1, Taxon: Taxon{OttID: 5, Flags: []string{"extinct", "hidden"}}}
	lowScore := Match{MatchedName: "low", Score: 0.8, Taxon: Taxon{OttID: 6}}
	homonymA := Match{MatchedName: "homonym", Score: 1, Taxon: Taxon{OttID: 7}}
	homonymB := Match{MatchedName: "homonym", Score: 1, Taxon: Taxon{OttID: 8}}

	tests := []struct {
		name    string
		matches []Match
		wantOtt int64
		wantOK  bool
	}{
		{"empty", nil, 0, false},
		{"single", []Match{fuzzy}, 2, true},
		{"exact beats approximate", []Match{fuzzy, exact}, 1, true},
		{"accepted beats synonym", []Match{synonym, exact}, 1, true},
		{"usable beats suppressed", []Match{suppressed, exact}, 1, true},
		{"usable beats deprecated flag", []Match{flagged, lowScore}, 6, true},
		{"higher score wins", []Match{lowScore, exact}, 1, true},
		{"synonym beats approximate", []Match{fuzzy, synonym}, 3, true},
		{"service order breaks ties", []Match{homonymA, homonymB}, 7, true},
		{"service order breaks ties reversed", []Match{homonymB, homonymA}, 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ChooseMatch(tt.matches)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Taxon.OttID != tt.wantOtt {
				t.Errorf("picked ott%d, want ott%d", got.Taxon.OttID, tt.wantOtt)
			}
		})
	}
}

func TestChooseMatch_DoesNotReorderInput(t *testing.T) {
	in := []Match{{MatchedName: "b", IsSynonym: true}, {MatchedName: "a"}}
	ChooseMatch(in)
	if in[0].MatchedName != "b" {
		t.Errorf("input slice was reordered")
	}
}
