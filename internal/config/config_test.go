package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestLoadProfileTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := WriteTemplate(path, "profile", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	descs, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	want := []record.DeviceDescriptor{
		{Class: record.ClassHMD, Subtype: 13},
		{Class: record.ClassController, Subtype: 22},
		{Class: record.ClassController, Subtype: 22},
	}
	if diff := cmp.Diff(want, descs); diff != "" {
		t.Fatalf("descriptors (-want +got):\n%s", diff)
	}
	if cfg.Motion.PeriodSeconds != 4 || cfg.Motion.Radius != 0.35 {
		t.Fatalf("unexpected motion: %+v", cfg.Motion)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := WriteTemplate(path, "relay", false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, "relay", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "relay", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestParseProfileDefaultsMotion(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseProfile([]byte(`
[[devices]]
class = "tracker"
subtype = 13
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := DefaultMotion()
	want.Bob = 0 // zero bob is a valid setting and is kept
	if diff := cmp.Diff(want, cfg.Motion); diff != "" {
		t.Fatalf("motion defaults (-want +got):\n%s", diff)
	}
}

func TestParseProfileRejectsInvalidDevices(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty":       `name = "x"`,
		"bad subtype": "[[devices]]\nclass = \"hmd\"\nsubtype = 7\n",
		"bad class":   "[[devices]]\nclass = \"glove\"\nsubtype = 13\n",
	}
	for name, doc := range cases {
		if _, err := ParseProfile([]byte(doc)); !errors.Is(err, ErrInvalidProfile) {
			t.Fatalf("%s: expected ErrInvalidProfile, got %v", name, err)
		}
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestEntriesForRoundTrip(t *testing.T) {
	testlog.Start(t)
	descs, err := DefaultProfile().Descriptors()
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	back, err := Profile{Devices: EntriesFor(descs)}.Descriptors()
	if err != nil {
		t.Fatalf("descriptors from entries: %v", err)
	}
	if diff := cmp.Diff(descs, back); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}
