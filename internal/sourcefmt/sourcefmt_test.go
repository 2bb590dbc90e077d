package sourcefmt

import (
	"testing"
)

func gitFacts(commit, date string) map[string]string {
	return map[string]string{
		FactGitCommit: commit,
		FactGitDate:   date,
	}
}

func TestGitVersion(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		want    string
		wantErr bool
	}{
		{
			name: "default template",
			in: Input{
				Version: "1.0",
				Facts:   gitFacts("abc1234def5678abc1234def5678abc1234def56", "20160101 000000"),
			},
			want: "1.0~20160101.000000.gitabc1234",
		},
		{
			name: "custom separator",
			in: Input{
				Version:    "2.3",
				VersionSep: "+",
				Facts:      gitFacts("def5678000000000000000000000000000000000", "20160102 131415"),
			},
			want: "2.3+20160102.131415.gitdef5678",
		},
		{
			name: "custom template",
			in: Input{
				Version:  "0.9",
				Template: "%{version}^git%{date}.%{shortcommit}",
				Facts:    gitFacts("0123456789abcdef", "20200229 235959"),
			},
			want: "0.9^git20200229.0123456",
		},
		{
			name: "short commit shorter than seven characters",
			in: Input{
				Version: "1",
				Facts:   gitFacts("abc", "20160101 000000"),
			},
			want: "1~20160101.000000.gitabc",
		},
		{
			name:    "missing commit",
			in:      Input{Version: "1.0", Facts: map[string]string{FactGitDate: "20160101 000000"}},
			wantErr: true,
		},
		{
			name:    "malformed date",
			in:      Input{Version: "1.0", Facts: gitFacts("abc1234", "20160101")},
			wantErr: true,
		},
	}

	f, err := Lookup(KindGit)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Version(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Version() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Version() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlainVersion(t *testing.T) {
	for _, kind := range []Kind{KindURL, KindLocal} {
		t.Run(string(kind), func(t *testing.T) {
			f, err := Lookup(kind)
			if err != nil {
				t.Fatal(err)
			}

			got, err := f.Version(Input{Version: "1.0", Facts: gitFacts("abc1234", "20160101 000000")})
			if err != nil {
				t.Fatal(err)
			}
			if got != "1.0" {
				t.Errorf("Version() = %q, want 1.0", got)
			}

			if _, err := f.Version(Input{}); err == nil {
				t.Error("expected error for unconfigured version")
			}
		})
	}
}

func TestPreamble(t *testing.T) {
	in := Input{
		Version: "1.0",
		Origin:  "https://example.com/foo-1.0.tar.gz",
		Facts:   gitFacts("abc1234def5678", "20160101 120000"),
	}

	git, _ := Lookup(KindGit)
	macros, err := git.Preamble(in)
	if err != nil {
		t.Fatal(err)
	}

	want := []Macro{
		{Name: "commit", Value: "abc1234def5678"},
		{Name: "shortcommit", Value: "abc1234"},
		{Name: "date", Value: "20160101"},
		{Name: "time", Value: "120000"},
	}
	if len(macros) != len(want) {
		t.Fatalf("got %d macros, want %d", len(macros), len(want))
	}
	for i := range want {
		if macros[i] != want[i] {
			t.Errorf("macro %d = %+v, want %+v", i, macros[i], want[i])
		}
	}

	rendered := RenderPreamble(macros)
	wantRendered := "%global commit abc1234def5678\n" +
		"%global shortcommit abc1234\n" +
		"%global date 20160101\n" +
		"%global time 120000\n" +
		"\n"
	if rendered != wantRendered {
		t.Errorf("RenderPreamble() = %q, want %q", rendered, wantRendered)
	}

	for _, kind := range []Kind{KindURL, KindLocal} {
		f, _ := Lookup(kind)
		macros, err := f.Preamble(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := RenderPreamble(macros); got != "" {
			t.Errorf("%s preamble = %q, want empty", kind, got)
		}
	}
}

func TestSourceLine(t *testing.T) {
	tests := []struct {
		kind   Kind
		origin string
		want   string
	}{
		{KindGit, "https://github.com/example/foo.git", "%{name}-%{version}.tar.gz"},
		{KindURL, "https://example.com/foo-1.0.tar.gz", "https://example.com/foo-1.0.tar.gz"},
		{KindLocal, "/srv/tarballs/foo-1.0.tar.xz", "foo-1.0.tar.xz"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f, err := Lookup(tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			if got := f.SourceLine(Input{Origin: tt.origin}); got != tt.want {
				t.Errorf("SourceLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTableLookupUnknownKind(t *testing.T) {
	if _, err := Lookup(Kind("bzr")); err == nil {
		t.Fatal("expected error for unknown kind")
	}

	table := DefaultTable()
	table.Register("bzr", Formatter{
		Version:    plainVersion,
		Preamble:   noPreamble,
		SourceLine: func(Input) string { return "bzr.tar.gz" },
	})
	f, err := table.Lookup("bzr")
	if err != nil {
		t.Fatalf("Lookup() after registering: %v", err)
	}
	if got := f.SourceLine(Input{}); got != "bzr.tar.gz" {
		t.Errorf("SourceLine() = %q", got)
	}
}
