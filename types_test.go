package models

import (
	"encoding/json"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Version
		wantErr bool
	}{
		{
			name:  "basic",
			input: "1.2.3",
			want:  Version{Major: 1, Minor: 2, Patch: 3},
		},
		{
			name:  "all zeros",
			input: "0.0.0",
			want:  Version{},
		},
		{
			name:  "multi digit components",
			input: "10.20.30",
			want:  Version{Major: 10, Minor: 20, Patch: 30},
		},
		{
			name:    "missing patch",
			input:   "1.2",
			wantErr: true,
		},
		{
			name:    "four components",
			input:   "1.2.3.4",
			wantErr: true,
		},
		{
			name:    "v prefix",
			input:   "v1.2.3",
			wantErr: true,
		},
		{
			name:    "prerelease suffix",
			input:   "1.2.3-beta",
			wantErr: true,
		},
		{
			name:    "leading zero",
			input:   "01.2.3",
			wantErr: true,
		},
		{
			name:    "negative component",
			input:   "-1.2.3",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "non-numeric",
			input:   "a.b.c",
			wantErr: true,
		},
		{
			name:    "embedded whitespace",
			input:   "1.2. 3",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Fatalf("ParseVersion(%q) error = %v, want ErrInvalidVersion", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{name: "equal", a: "1.2.3", b: "1.2.3", want: 0},
		{name: "major dominates", a: "2.0.0", b: "1.9.9", want: 1},
		{name: "minor dominates", a: "1.10.0", b: "1.9.9", want: 1},
		{name: "patch decides", a: "1.2.10", b: "1.2.9", want: 1},
		{name: "numeric not lexicographic", a: "10.0.0", b: "9.0.0", want: 1},
		{name: "older major", a: "0.9.9", b: "1.0.0", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			if err != nil {
				t.Fatalf("ParseVersion(%q) error = %v", tt.a, err)
			}
			b, err := ParseVersion(tt.b)
			if err != nil {
				t.Fatalf("ParseVersion(%q) error = %v", tt.b, err)
			}
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := b.Compare(a); got != -tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestVersionJSON(t *testing.T) {
	v := Version{Major: 1, Minor: 4, Patch: 0}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"1.4.0"` {
		t.Errorf("Marshal() = %s, want %q", data, `"1.4.0"`)
	}

	var got Version
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != v {
		t.Errorf("Unmarshal() = %+v, want %+v", got, v)
	}

	if err := json.Unmarshal([]byte(`"1.2"`), &got); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("Unmarshal(%q) error = %v, want ErrInvalidVersion", "1.2", err)
	}
	if err := json.Unmarshal([]byte(`123`), &got); err == nil {
		t.Error("Unmarshal(123) error = nil, want error")
	}
}

func TestParseArtifactID(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantBase    string
		wantVersion Version
		wantHas     bool
	}{
		{
			name:        "versioned id",
			input:       "llama-chat-1.2.3",
			wantBase:    "llama-chat",
			wantVersion: Version{Major: 1, Minor: 2, Patch: 3},
			wantHas:     true,
		},
		{
			name:     "bare base id",
			input:    "llama-chat",
			wantBase: "llama-chat",
		},
		{
			name:     "suffix is not a version",
			input:    "whisper-small",
			wantBase: "whisper-small",
		},
		{
			name:     "two component suffix",
			input:    "whisper-1.2",
			wantBase: "whisper-1.2",
		},
		{
			name:        "numeric base segment",
			input:       "agent-7b-0.1.0",
			wantBase:    "agent-7b",
			wantVersion: Version{Minor: 1},
			wantHas:     true,
		},
		{
			name:     "leading dash only",
			input:    "-1.2.3",
			wantBase: "-1.2.3",
		},
		{
			name:     "empty string",
			input:    "",
			wantBase: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, version, has := ParseArtifactID(tt.input)
			if base != tt.wantBase {
				t.Errorf("base = %q, want %q", base, tt.wantBase)
			}
			if has != tt.wantHas {
				t.Errorf("hasVersion = %v, want %v", has, tt.wantHas)
			}
			if tt.wantHas && version != tt.wantVersion {
				t.Errorf("version = %+v, want %+v", version, tt.wantVersion)
			}
		})
	}
}

func TestVersionedIDRoundTrip(t *testing.T) {
	v := Version{Major: 2, Minor: 0, Patch: 1}
	id := VersionedID("tts-piper", v)
	if id != "tts-piper-2.0.1" {
		t.Fatalf("VersionedID() = %q, want %q", id, "tts-piper-2.0.1")
	}

	base, got, has := ParseArtifactID(id)
	if !has {
		t.Fatal("ParseArtifactID() hasVersion = false, want true")
	}
	if base != "tts-piper" || got != v {
		t.Errorf("ParseArtifactID() = (%q, %+v), want (%q, %+v)", base, got, "tts-piper", v)
	}
}

func TestArtifactIDSplitProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(rt, "base")
		v := Version{
			Major: rapid.IntRange(0, 99).Draw(rt, "major"),
			Minor: rapid.IntRange(0, 99).Draw(rt, "minor"),
			Patch: rapid.IntRange(0, 99).Draw(rt, "patch"),
		}

		gotBase, gotVersion, has := ParseArtifactID(VersionedID(base, v))
		if !has {
			rt.Fatalf("ParseArtifactID(%q) hasVersion = false", VersionedID(base, v))
		}
		if gotBase != base || gotVersion != v {
			rt.Fatalf("ParseArtifactID(%q) = (%q, %s), want (%q, %s)",
				VersionedID(base, v), gotBase, gotVersion, base, v)
		}
	})
}

func TestParseArtifactType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ArtifactType
		wantErr bool
	}{
		{name: "llm", input: "llm", want: ArtifactTypeLLM},
		{name: "uppercase", input: "LLM", want: ArtifactTypeLLM},
		{name: "stt", input: "stt", want: ArtifactTypeSTT},
		{name: "tts", input: "tts", want: ArtifactTypeTTS},
		{name: "all", input: "all", want: ArtifactTypeAny},
		{name: "any", input: "any", want: ArtifactTypeAny},
		{name: "empty", input: "", want: ArtifactTypeAny},
		{name: "unknown", input: "gguf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArtifactType(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRef) {
					t.Fatalf("ParseArtifactType(%q) error = %v, want ErrInvalidRef", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArtifactType(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseArtifactType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestArtifactTypeString(t *testing.T) {
	if got := ArtifactTypeAny.String(); got != "all" {
		t.Errorf("ArtifactTypeAny.String() = %q, want %q", got, "all")
	}
	if got := ArtifactTypeSTT.String(); got != "stt" {
		t.Errorf("ArtifactTypeSTT.String() = %q, want %q", got, "stt")
	}
}

func TestArtifactDescriptorValidate(t *testing.T) {
	valid := ArtifactDescriptor{
		VersionedID: "llama-chat-1.0.0",
		BaseID:      "llama-chat",
		Type:        ArtifactTypeLLM,
		Version:     Version{Major: 1},
		SizeBytes:   1024,
		SourceURL:   "https://models.example.com/llama-chat.bin",
		Checksum:    "deadbeef",
	}

	tests := []struct {
		name    string
		mutate  func(*ArtifactDescriptor)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(d *ArtifactDescriptor) {},
		},
		{
			name:    "empty base id",
			mutate:  func(d *ArtifactDescriptor) { d.BaseID = "" },
			wantErr: true,
		},
		{
			name: "base id with slash",
			mutate: func(d *ArtifactDescriptor) {
				d.BaseID = "evil/model"
				d.VersionedID = "evil/model-1.0.0"
			},
			wantErr: true,
		},
		{
			name: "base id with backslash",
			mutate: func(d *ArtifactDescriptor) {
				d.BaseID = `evil\model`
				d.VersionedID = `evil\model-1.0.0`
			},
			wantErr: true,
		},
		{
			name: "base id with parent traversal",
			mutate: func(d *ArtifactDescriptor) {
				d.BaseID = "..evil"
				d.VersionedID = "..evil-1.0.0"
			},
			wantErr: true,
		},
		{
			name:    "empty versioned id",
			mutate:  func(d *ArtifactDescriptor) { d.VersionedID = "" },
			wantErr: true,
		},
		{
			name:    "versioned id does not match version",
			mutate:  func(d *ArtifactDescriptor) { d.VersionedID = "llama-chat-2.0.0" },
			wantErr: true,
		},
		{
			name:    "versioned id does not match base",
			mutate:  func(d *ArtifactDescriptor) { d.VersionedID = "mistral-1.0.0" },
			wantErr: true,
		},
		{
			name:    "unknown type",
			mutate:  func(d *ArtifactDescriptor) { d.Type = "gguf" },
			wantErr: true,
		},
		{
			name:    "any type is not concrete",
			mutate:  func(d *ArtifactDescriptor) { d.Type = ArtifactTypeAny },
			wantErr: true,
		},
		{
			name:    "negative size",
			mutate:  func(d *ArtifactDescriptor) { d.SizeBytes = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRef) {
					t.Errorf("Validate() error = %v, want ErrInvalidRef", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestTransferStateTerminal(t *testing.T) {
	tests := []struct {
		state TransferState
		want  bool
	}{
		{TransferPending, false},
		{TransferInProgress, false},
		{TransferCompleted, true},
		{TransferFailed, true},
		{TransferCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
