package lexical

import (
	"reflect"
	"testing"
)

func TestNormalize_DropsFunctionWordsKeepsDomainNouns(t *testing.T) {
	set := Normalize("Create the login page")
	if _, ok := set["the"]; ok {
		t.Fatalf("stop word %q should be dropped", "the")
	}
	for _, want := range []string{"login", "page"} {
		if _, ok := set[want]; !ok {
			t.Fatalf("domain token %q missing from %v", want, set)
		}
	}
}

func TestNormalize_Stemming(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"tests", "test"},
		{"testing", "test"},
		{"pages", "page"},
		{"migration", "migr"},
		{"configuration", "configur"},
		{"deployed", "deploy"},
	}
	for _, tc := range cases {
		set := Normalize(tc.in)
		if _, ok := set[tc.want]; !ok {
			t.Fatalf("Normalize(%q)=%v, want token %q", tc.in, set, tc.want)
		}
		if len(set) != 1 {
			t.Fatalf("Normalize(%q)=%v, want single token", tc.in, set)
		}
	}
}

func TestNormalize_ShortWordsNotOverStemmed(t *testing.T) {
	// "using" would stem to "us" which is below the floor; token kept whole
	set := Normalize("using")
	if _, ok := set["using"]; !ok {
		t.Fatalf("Normalize(using)=%v, want %q kept", set, "using")
	}
	// trailing "ss" is not a plural
	set = Normalize("process")
	if _, ok := set["process"]; !ok {
		t.Fatalf("Normalize(process)=%v, want %q kept", set, "process")
	}
}

func TestNormalize_SynonymClusters(t *testing.T) {
	// create / implement / build / write all land on the same canonical token
	variants := []string{"create", "created", "implement", "implemented", "build", "write", "add"}
	for _, v := range variants {
		set := Normalize(v)
		if _, ok := set["creat"]; !ok {
			t.Fatalf("Normalize(%q)=%v, want canonical %q", v, set, "creat")
		}
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	a := Normalize("Implement the user login page")
	b := Normalize("Implement the user login page")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("normalize is not deterministic: %v vs %v", a, b)
	}
	ta := Tokens("Implement the user login page")
	tb := Tokens("Implement the user login page")
	if !reflect.DeepEqual(ta, tb) {
		t.Fatalf("tokens not deterministic: %v vs %v", ta, tb)
	}
}

func TestTokensRoundTrip(t *testing.T) {
	toks := Tokens("Write integration tests for the cache")
	if !reflect.DeepEqual(SetOf(toks), Normalize("Write integration tests for the cache")) {
		t.Fatalf("SetOf(Tokens(x)) != Normalize(x)")
	}
}

func TestScore_Jaccard(t *testing.T) {
	a := SetOf([]string{"login", "page", "creat"})
	b := SetOf([]string{"login", "page", "test"})
	got := Score(a, b)
	want := 2.0 / 4.0
	if got != want {
		t.Fatalf("Score=%v, want %v", got, want)
	}
	if Score(a, a) != 1.0 {
		t.Fatalf("identical sets should score 1.0")
	}
}

func TestScore_EmptySets(t *testing.T) {
	if Score(Set{}, Set{}) != 0 {
		t.Fatalf("two empty sets must score 0, not NaN")
	}
	if Score(SetOf([]string{"login"}), Set{}) != 0 {
		t.Fatalf("one empty set must score 0")
	}
}

func TestScore_SpecScenario(t *testing.T) {
	// plan item "Create the login page" vs report "Login page implemented":
	// overlap must clear the 0.3 acceptance threshold
	item := Normalize("Create the login page")
	report := Normalize("Login page implemented")
	if got := Score(item, report); got <= 0.3 {
		t.Fatalf("Score=%v, want > 0.3", got)
	}
}
