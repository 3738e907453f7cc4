package process

import "testing"

func TestBaseNameNoExt(t *testing.T) {
	cases := map[string]string{
		"Notepad.EXE":  "notepad",
		"bash":         "bash",
		"svchost.exe":  "svchost",
		"archive.tar.gz": "archive.tar",
	}
	for in, want := range cases {
		if got := baseNameNoExt(in); got != want {
			t.Errorf("baseNameNoExt(%q) = %q, want %q", in, got, want)
		}
	}
}
