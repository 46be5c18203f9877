package tracking

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/klog/v2"
)

// MetricsSink receives one flat record of named values per call. A sink
// error is fatal for the run that produced the record.
type MetricsSink interface {
	Log(metrics map[string]float64) error
}

// KlogSink writes each record as one log line at the given verbosity
type KlogSink struct {
	Verbosity klog.Level
}

func (s KlogSink) Log(metrics map[string]float64) error {
	klog.V(s.Verbosity).Infof("metrics: %s", FormatMetrics(metrics))
	return nil
}

// FormatMetrics renders a record as sorted key=value pairs
func FormatMetrics(metrics map[string]float64) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.6g", k, metrics[k])
	}
	return strings.Join(parts, " ")
}

// Record is one decoded entry of a protobuf metrics stream
type Record struct {
	Seq     int64
	Metrics map[string]float64
	Labels  map[string]string
}

// ProtoFileSink appends every record to a stream of length-delimited
// google.protobuf.Struct messages.
type ProtoFileSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	labels map[string]interface{}
	seq    int64
}

// NewProtoSink writes records to w, tagging each with labels
func NewProtoSink(w io.Writer, labels map[string]string) *ProtoFileSink {
	l := make(map[string]interface{}, len(labels))
	for k, v := range labels {
		l[k] = v
	}
	return &ProtoFileSink{w: bufio.NewWriter(w), labels: l}
}

// NewProtoFileSink creates (or truncates) path and writes records to it
func NewProtoFileSink(path string, labels map[string]string) (*ProtoFileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics file: %w", err)
	}
	s := NewProtoSink(f, labels)
	s.closer = f
	return s, nil
}

func (s *ProtoFileSink) Log(metrics map[string]float64) error {
	values := make(map[string]interface{}, len(metrics))
	for k, v := range metrics {
		values[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := structpb.NewStruct(map[string]interface{}{
		"seq":     float64(s.seq),
		"metrics": values,
		"labels":  s.labels,
	})
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	if _, err := protodelim.MarshalTo(s.w, msg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	s.seq++
	return nil
}

// Flush writes buffered records to the underlying writer
func (s *ProtoFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes the stream and closes the file it was opened on
func (s *ProtoFileSink) Close() error {
	err := s.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadProtoRecords decodes a stream written by ProtoFileSink
func ReadProtoRecords(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var records []Record

	for {
		msg := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, msg)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("failed to read record %d: %w", len(records), err)
		}

		rec := Record{Metrics: map[string]float64{}, Labels: map[string]string{}}
		fields := msg.GetFields()
		rec.Seq = int64(fields["seq"].GetNumberValue())
		for k, v := range fields["metrics"].GetStructValue().GetFields() {
			rec.Metrics[k] = v.GetNumberValue()
		}
		for k, v := range fields["labels"].GetStructValue().GetFields() {
			rec.Labels[k] = v.GetStringValue()
		}
		records = append(records, rec)
	}
}

// RecordingSink keeps every record in memory
type RecordingSink struct {
	mu      sync.Mutex
	records []map[string]float64
}

func (s *RecordingSink) Log(metrics map[string]float64) error {
	rec := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		rec[k] = v
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Records returns the records logged so far
func (s *RecordingSink) Records() []map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]float64(nil), s.records...)
}

// MultiSink fans each record out to every sink, in order
type MultiSink []MetricsSink

func (m MultiSink) Log(metrics map[string]float64) error {
	var errs []error
	for _, s := range m {
		if err := s.Log(metrics); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
