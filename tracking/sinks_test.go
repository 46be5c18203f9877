package tracking

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestProtoSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.pb")
	sink, err := NewProtoFileSink(path, map[string]string{"project": "petsbench", "group": "nightly"})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	records := []map[string]float64{
		{"train/train_loss": 3.61, "train/epoch": 0.25, "train/example_ct": 64, "samples_per_sec": 812.5, "samples_per_sec_epoch": 790},
		{"train/train_loss": 3.58, "train/epoch": 0.5, "train/example_ct": 128, "samples_per_sec": 820, "samples_per_sec_epoch": 801.25},
	}
	for _, r := range records {
		if err := sink.Log(r); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read metrics file: %v", err)
	}
	got, err := ReadProtoRecords(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode records: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("Expected %d records, got %d", len(records), len(got))
	}
	for i, rec := range got {
		if rec.Seq != int64(i) {
			t.Errorf("Expected sequence %d, got %d", i, rec.Seq)
		}
		for k, v := range records[i] {
			if rec.Metrics[k] != v {
				t.Errorf("Record %d: expected %s=%g, got %g", i, k, v, rec.Metrics[k])
			}
		}
		if rec.Labels["group"] != "nightly" {
			t.Errorf("Expected group label nightly, got %q", rec.Labels["group"])
		}
	}
}

func TestReadProtoRecordsTruncated(t *testing.T) {
	var buf bytes.Buffer
	sink := NewProtoSink(&buf, nil)
	if err := sink.Log(map[string]float64{"a": 1}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data := buf.Bytes()
	if _, err := ReadProtoRecords(bytes.NewReader(data[:len(data)-2])); err == nil {
		t.Error("Expected error for a truncated stream")
	}

	empty, err := ReadProtoRecords(bytes.NewReader(nil))
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no records and no error for an empty stream, got %v, %v", empty, err)
	}
}

type failingSink struct{ err error }

func (f failingSink) Log(map[string]float64) error { return f.err }

func TestMultiSink(t *testing.T) {
	a, b := &RecordingSink{}, &RecordingSink{}
	if err := (MultiSink{a, KlogSink{Verbosity: 2}, b}).Log(map[string]float64{"x": 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(a.Records()) != 1 || len(b.Records()) != 1 {
		t.Error("Expected every sink to receive the record")
	}

	boom := errors.New("disk full")
	c := &RecordingSink{}
	err := MultiSink{failingSink{boom}, c}.Log(map[string]float64{"x": 2})
	if !errors.Is(err, boom) {
		t.Errorf("Expected the sink error to surface, got %v", err)
	}
	if len(c.Records()) != 1 {
		t.Error("Expected later sinks to still receive the record")
	}
}

func TestRecordingSinkCopies(t *testing.T) {
	s := &RecordingSink{}
	m := map[string]float64{"x": 1}
	s.Log(m)
	m["x"] = 2
	if s.Records()[0]["x"] != 1 {
		t.Error("Expected the recorded map to be independent of the caller's map")
	}
}

func TestFormatMetrics(t *testing.T) {
	got := FormatMetrics(map[string]float64{"b": 2, "a": 0.5})
	if got != "a=0.5 b=2" {
		t.Errorf("Expected sorted pairs, got %q", got)
	}
}
